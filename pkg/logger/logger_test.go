/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	for text, expected := range map[string]zapcore.Level{
		"Debug":   zapcore.DebugLevel,
		" info ":  zapcore.InfoLevel,
		"Warning": zapcore.WarnLevel,
		"warn":    zapcore.WarnLevel,
		"ERROR":   zapcore.ErrorLevel,
	} {
		level, err := ParseLevel(text)
		require.NoError(t, err, text)
		require.Equal(t, expected, level, text)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestMiddlewarePassesStatusThrough(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusTeapot, recorder.Code)
}
