/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestJuiceEncoderLayout(t *testing.T) {
	config := zap.NewDevelopmentEncoderConfig()
	config.EncodeTime = func(time.Time, zapcore.PrimitiveArrayEncoder) {}
	config.EncodeCaller = nil

	encoder, err := NewJuiceEncoder(config)
	require.NoError(t, err)

	encoder.AddString("source", "listener")

	line, err := encoder.EncodeEntry(zapcore.Entry{
		Level:   zapcore.WarnLevel,
		Message: "upstream unreachable",
	}, []zapcore.Field{zap.String("session", "abc"), zap.Int("bytes", 3)})
	require.NoError(t, err)

	require.Equal(t, "W] upstream unreachable bytes=3 session=abc source=listener\n", line.String())
}

func TestJuiceEncoderCloneIsolatesContext(t *testing.T) {
	encoder, err := NewJuiceEncoder(zap.NewDevelopmentEncoderConfig())
	require.NoError(t, err)

	clone := encoder.Clone()
	clone.AddString("session", "abc")

	require.Empty(t, encoder.(*juiceEncoder).Fields)
	require.Equal(t, "abc", clone.(*juiceEncoder).Fields["session"])
}
