/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package forwarder

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, use of a closed connection, broken pipe or reset.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// isResourceExhausted reports accept failures caused by descriptor or
// memory limits, which clear up once other sessions end.
func isResourceExhausted(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM:
			return true
		}
	}
	return false
}

type closeWriter interface {
	CloseWrite() error
}

// closeWrite signals end-of-output on conn. Connections without half-close
// support are left open; the session closes them during teardown.
func closeWrite(conn net.Conn) error {
	if writer, ok := conn.(closeWriter); ok {
		return writer.CloseWrite()
	}
	return nil
}
