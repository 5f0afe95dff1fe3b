/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package net

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Juice-Labs/session-proxy/pkg/logger"
)

// Respond writes obj as JSON. Status documents change on every request so
// they are never cached.
func Respond[T any](w http.ResponseWriter, code int, obj T) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(data)))
	header.Set("Cache-Control", "no-store")
	w.WriteHeader(code)

	_, err = w.Write(data)
	return err
}

// RespondOrLog writes obj and logs a failed write, which only happens once
// the client has gone away.
func RespondOrLog[T any](w http.ResponseWriter, r *http.Request, code int, obj T) {
	if err := Respond(w, code, obj); err != nil {
		logger.Debugf("%s %s: writing response: %v", r.Method, r.RequestURI, err)
	}
}
