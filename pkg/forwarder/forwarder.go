/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package forwarder

import (
	"net"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
)

const (
	DefaultDialTimeout = 5 * time.Second

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

var (
	ErrNotListening = errors.New("forwarder: not listening")
	ErrStopped      = errors.New("forwarder: stopped")
)

type Config struct {
	// Privileged socket clients connect to.
	ListenPath string

	// Compositor socket every session is spliced to.
	UpstreamPath string

	DialTimeout time.Duration

	// Sessions still running this long after Stop are closed. Zero waits
	// for every session to end on its own.
	DrainTimeout time.Duration

	// Sessions without traffic in either direction for this long are
	// closed. Zero disables the check.
	IdleTimeout time.Duration
}

type Forwarder struct {
	config    Config
	observers observers

	mutex      sync.Mutex
	endpoint   *endpoint
	serving    bool
	stopping   bool
	done       chan struct{}
	sessions   *orderedmap.OrderedMap[string, *Session]
	drainTimer *time.Timer

	waitGroup sync.WaitGroup
}

func New(config Config) *Forwarder {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}

	return &Forwarder{
		config:   config,
		sessions: orderedmap.New[string, *Session](),
	}
}

// AddObserver registers observer for all future events. Call it before
// Listen.
func (forwarder *Forwarder) AddObserver(observer Observer) {
	forwarder.observers = append(forwarder.observers, observer)
}

func (forwarder *Forwarder) ListenPath() string {
	return forwarder.config.ListenPath
}

func (forwarder *Forwarder) UpstreamPath() string {
	return forwarder.config.UpstreamPath
}

// Listen binds the listening endpoint. A failed Listen leaves neither a
// socket nor a lock file behind.
func (forwarder *Forwarder) Listen() error {
	if forwarder.config.UpstreamPath == "" {
		return errors.ErrConfiguration.Wrap(errors.New("upstream socket path is required"))
	}
	if forwarder.config.ListenPath == "" {
		return errors.ErrConfiguration.Wrap(errors.New("listen socket path is required"))
	}
	if forwarder.config.ListenPath == forwarder.config.UpstreamPath {
		return errors.ErrConfiguration.Wrap(errors.Newf("listen path %s is the upstream path", forwarder.config.ListenPath))
	}

	forwarder.mutex.Lock()
	defer forwarder.mutex.Unlock()

	if forwarder.stopping {
		return ErrStopped
	}
	if forwarder.endpoint != nil {
		return errors.ErrBind.Wrap(errors.Newf("already listening on %s", forwarder.endpoint.path))
	}

	endpoint, err := bind(forwarder.config.ListenPath)
	if err != nil {
		return err
	}
	forwarder.endpoint = endpoint

	logger.Infof("listening on %s, forwarding to %s", forwarder.config.ListenPath, forwarder.config.UpstreamPath)
	return nil
}

// Start binds the listening endpoint and runs the accept loop in the
// background.
func (forwarder *Forwarder) Start() error {
	err := forwarder.Listen()
	if err != nil {
		return err
	}

	go func() {
		if err := forwarder.Serve(); err != nil {
			logger.Error(err)
		}
	}()

	return nil
}

// Serve runs the accept loop until Stop. Accept failures are logged and
// retried with a capped backoff; they never end the loop.
func (forwarder *Forwarder) Serve() error {
	forwarder.mutex.Lock()
	if forwarder.stopping {
		forwarder.mutex.Unlock()
		return nil
	}
	if forwarder.endpoint == nil {
		forwarder.mutex.Unlock()
		return ErrNotListening
	}
	if forwarder.serving {
		forwarder.mutex.Unlock()
		return errors.New("forwarder: already serving")
	}
	forwarder.serving = true
	forwarder.done = make(chan struct{})
	listener := forwarder.endpoint.listener
	done := forwarder.done
	forwarder.mutex.Unlock()

	defer close(done)

	var backoff time.Duration
	for {
		connection, err := listener.AcceptUnix()
		if err != nil {
			if forwarder.isStopping() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			forwarder.observers.AcceptFailed(err)

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}

			if isResourceExhausted(err) {
				logger.Warningf("accept failed, descriptor limit reached, retrying in %s: %v", backoff, err)
			} else {
				logger.Errorf("accept failed, retrying in %s: %v", backoff, err)
			}

			time.Sleep(backoff)
			continue
		}

		backoff = 0
		forwarder.handle(connection, SourceListener)
	}
}

// Adopt forwards an already-connected client, e.g. one handed over by the
// session manager. After Stop the connection is closed and ErrStopped is
// returned.
func (forwarder *Forwarder) Adopt(connection net.Conn) error {
	return forwarder.handle(connection, SourceSession)
}

func (forwarder *Forwarder) handle(connection net.Conn, source Source) error {
	session := newSession(connection, source)

	forwarder.mutex.Lock()
	if forwarder.stopping && source != SourceListener {
		forwarder.mutex.Unlock()
		connection.Close()
		return ErrStopped
	}
	forwarder.sessions.Set(session.id, session)
	forwarder.waitGroup.Add(1)
	forwarder.mutex.Unlock()

	session.log.Debug("client connected")

	go func() {
		defer forwarder.waitGroup.Done()

		err := session.run(forwarder.config, forwarder.observers)

		forwarder.mutex.Lock()
		forwarder.sessions.Delete(session.id)
		forwarder.mutex.Unlock()

		switch {
		case errors.Is(err, errors.ErrUpstreamUnreachable):
			session.log.Warn(err)
		case err != nil:
			session.log.Infof("session ended: %v", err)
		default:
			info := session.Info()
			session.log.Debugf("session ended, %d bytes to upstream, %d bytes to client", info.BytesToUpstream, info.BytesToClient)
		}
	}()

	return nil
}

func (forwarder *Forwarder) isStopping() bool {
	forwarder.mutex.Lock()
	defer forwarder.mutex.Unlock()

	return forwarder.stopping
}

// Stop closes the listening endpoint and returns once the accept loop has
// exited, so no session is accepted afterwards. Running sessions are left
// alone unless a drain deadline is configured.
func (forwarder *Forwarder) Stop() error {
	forwarder.mutex.Lock()
	if forwarder.stopping {
		forwarder.mutex.Unlock()
		return nil
	}
	forwarder.stopping = true

	endpoint := forwarder.endpoint
	done := forwarder.done

	if forwarder.config.DrainTimeout > 0 {
		forwarder.drainTimer = time.AfterFunc(forwarder.config.DrainTimeout, forwarder.drainExpired)
	}
	forwarder.mutex.Unlock()

	var err error
	if endpoint != nil {
		err = endpoint.close()
	}

	if done != nil {
		<-done
	}

	logger.Infof("stopped listening on %s", forwarder.config.ListenPath)
	return err
}

// Wait blocks until the accept loop has exited and every session has
// finished.
func (forwarder *Forwarder) Wait() {
	forwarder.mutex.Lock()
	done := forwarder.done
	forwarder.mutex.Unlock()

	if done != nil {
		<-done
	}

	forwarder.waitGroup.Wait()

	forwarder.mutex.Lock()
	if forwarder.drainTimer != nil {
		forwarder.drainTimer.Stop()
	}
	forwarder.mutex.Unlock()
}

func (forwarder *Forwarder) drainExpired() {
	count := forwarder.CloseSessions()
	if count > 0 {
		logger.Warningf("drain deadline of %s expired, closed %d sessions", forwarder.config.DrainTimeout, count)
	}
}

// CloseSessions forcibly ends every running session and reports how many
// there were.
func (forwarder *Forwarder) CloseSessions() int {
	forwarder.mutex.Lock()
	sessions := make([]*Session, 0, forwarder.sessions.Len())
	for pair := forwarder.sessions.Oldest(); pair != nil; pair = pair.Next() {
		sessions = append(sessions, pair.Value)
	}
	forwarder.mutex.Unlock()

	for _, session := range sessions {
		session.Close()
	}

	return len(sessions)
}

// Sessions returns the running sessions, oldest first.
func (forwarder *Forwarder) Sessions() []SessionInfo {
	forwarder.mutex.Lock()
	defer forwarder.mutex.Unlock()

	sessions := make([]SessionInfo, 0, forwarder.sessions.Len())
	for pair := forwarder.sessions.Oldest(); pair != nil; pair = pair.Next() {
		sessions = append(sessions, pair.Value.Info())
	}

	return sessions
}
