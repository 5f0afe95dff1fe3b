/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package forwarder

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
)

// SessionInfo is a point-in-time snapshot of a session.
type SessionInfo struct {
	Id        string
	Source    Source
	StartedAt time.Time

	BytesToUpstream int64
	BytesToClient   int64
	FdsRelayed      int64
}

// Session pairs one client connection with one upstream connection. It owns
// both exclusively and closes both on every exit path.
type Session struct {
	id        string
	source    Source
	startedAt time.Time
	client    net.Conn
	log       *zap.SugaredLogger

	mutex    sync.Mutex
	upstream net.Conn
	closed   bool

	bytesToUpstream atomic.Int64
	bytesToClient   atomic.Int64
	fdsRelayed      atomic.Int64
	lastActivity    atomic.Int64
	writing         atomic.Int32
}

func newSession(client net.Conn, source Source) *Session {
	id := uuid.NewString()

	session := &Session{
		id:        id,
		source:    source,
		startedAt: time.Now(),
		client:    client,
		log:       logger.With("session", id, "source", string(source)),
	}
	session.touch()

	return session
}

func (session *Session) Id() string {
	return session.id
}

func (session *Session) Info() SessionInfo {
	return SessionInfo{
		Id:              session.id,
		Source:          session.source,
		StartedAt:       session.startedAt,
		BytesToUpstream: session.bytesToUpstream.Load(),
		BytesToClient:   session.bytesToClient.Load(),
		FdsRelayed:      session.fdsRelayed.Load(),
	}
}

// Close tears down both connections. It is safe to call concurrently with
// the relay and more than once; it is how a drain deadline ends a session.
func (session *Session) Close() error {
	session.mutex.Lock()
	session.closed = true
	upstream := session.upstream
	session.mutex.Unlock()

	err := session.client.Close()
	if upstream != nil {
		err = errors.Join(err, upstream.Close())
	}

	return err
}

func (session *Session) touch() {
	session.lastActivity.Store(time.Now().UnixNano())
}

// idleFor is zero while a write is blocked on a slow peer.
func (session *Session) idleFor() time.Duration {
	if session.writing.Load() > 0 {
		return 0
	}
	return time.Since(time.Unix(0, session.lastActivity.Load()))
}

// attach records the upstream connection unless the session was closed
// while the dial was in flight.
func (session *Session) attach(upstream net.Conn) bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	if session.closed {
		return false
	}

	session.upstream = upstream
	return true
}

// run dials the upstream endpoint and relays until the session ends. The
// client is never read before the dial completes.
func (session *Session) run(config Config, events Observer) error {
	upstream, err := net.DialTimeout("unix", config.UpstreamPath, config.DialTimeout)
	if err != nil {
		session.client.Close()

		err = errors.ErrUpstreamUnreachable.Wrap(err)
		events.UpstreamFailed(session.source, err)
		return err
	}

	if !session.attach(upstream) {
		upstream.Close()
		session.client.Close()
		return nil
	}
	defer session.Close()

	session.log.Debugf("connected to upstream %s", config.UpstreamPath)
	events.SessionStarted(session.Info())

	err = session.relay(config.IdleTimeout, events)
	events.SessionEnded(session.Info(), err)

	return err
}
