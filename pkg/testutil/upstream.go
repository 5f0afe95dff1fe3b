/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package testutil

import (
	"io"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// Upstream is a fake compositor socket. Every accepted connection is handed
// to the configured handler on its own goroutine.
type Upstream struct {
	Path string

	accepted atomic.Int64
	listener net.Listener

	mutex       sync.Mutex
	connections []net.Conn
}

// Accepted reports how many connections the upstream has accepted.
func (upstream *Upstream) Accepted() int64 {
	return upstream.accepted.Load()
}

// Close stops accepting and closes every open upstream-side connection.
func (upstream *Upstream) Close() {
	upstream.listener.Close()

	upstream.mutex.Lock()
	defer upstream.mutex.Unlock()
	for _, connection := range upstream.connections {
		connection.Close()
	}
}

// NewUpstream listens on name inside directory and serves every connection
// with handler.
func NewUpstream(t testing.TB, directory string, name string, handler func(*net.UnixConn)) *Upstream {
	t.Helper()

	path := filepath.Join(directory, name)
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("upstream: listen: %v", err)
	}

	upstream := &Upstream{
		Path:     path,
		listener: listener,
	}
	t.Cleanup(upstream.Close)

	go func() {
		for {
			connection, err := listener.Accept()
			if err != nil {
				return
			}
			upstream.accepted.Add(1)

			upstream.mutex.Lock()
			upstream.connections = append(upstream.connections, connection)
			upstream.mutex.Unlock()

			go func() {
				defer connection.Close()
				handler(connection.(*net.UnixConn))
			}()
		}
	}()

	return upstream
}

// EchoUpstream echoes everything it reads and half-closes once the client
// half-closes.
func EchoUpstream(t testing.TB, directory string) *Upstream {
	return NewUpstream(t, directory, "echo.sock", func(connection *net.UnixConn) {
		io.Copy(connection, connection)
		connection.CloseWrite()
	})
}

// PrefixUpstream reads until EOF, then writes prefix followed by the data
// and half-closes.
func PrefixUpstream(t testing.TB, directory string, prefix string) *Upstream {
	return NewUpstream(t, directory, "prefix.sock", func(connection *net.UnixConn) {
		data, err := io.ReadAll(connection)
		if err != nil {
			return
		}
		connection.Write(append([]byte(prefix), data...))
		connection.CloseWrite()
	})
}
