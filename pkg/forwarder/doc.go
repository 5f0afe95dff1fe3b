/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */

// Package forwarder splices client connections on a privileged Unix socket
// to fresh connections on the compositor's ordinary socket.
//
// A [Forwarder] binds its listening socket with [Forwarder.Listen], runs the
// accept loop with [Forwarder.Serve] and hands every accepted (or adopted,
// see [Forwarder.Adopt]) client to its own session. A session dials the
// upstream socket without reading anything from the client, then copies both
// directions concurrently. End-of-output on one side becomes CloseWrite on
// the other; the session ends once both directions finished or either failed,
// and both connections are always closed on the way out.
//
// When both ends are Unix sockets, file descriptors passed with SCM_RIGHTS
// travel with the bytes they were attached to. Payload is never inspected.
//
// Writes block until the peer drains: a direction holds at most one read
// buffer, so a slow reader throttles its sender instead of growing memory.
package forwarder
