/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package forwarder

import (
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
)

const probeTimeout = 500 * time.Millisecond

// endpoint is a bound listening socket plus the lock file that reserves its
// path for this process.
type endpoint struct {
	path     string
	listener *net.UnixListener
	lock     *os.File
}

func lockPath(path string) string {
	return path + ".lock"
}

// bind reserves path with an exclusive flock on path.lock, clears a stale
// socket left behind by a dead process and binds a fresh listener. Every
// failure releases whatever was acquired so far.
func bind(path string) (*endpoint, error) {
	lock, err := os.OpenFile(lockPath(path), os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, 0o660)
	if err != nil {
		return nil, errors.ErrBind.Wrapf("open lock for %s: %w", path, err)
	}

	err = unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		lock.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.ErrBind.Wrapf("%s is locked by another instance", path)
		}
		return nil, errors.ErrBind.Wrapf("lock %s: %w", path, err)
	}

	release := func() {
		os.Remove(lock.Name())
		lock.Close()
	}

	if info, err := os.Lstat(path); err == nil {
		if info.Mode().Type() != os.ModeSocket {
			release()
			return nil, errors.ErrBind.Wrapf("%s exists and is not a socket", path)
		}

		probe, err := net.DialTimeout("unix", path, probeTimeout)
		if err == nil {
			probe.Close()
			release()
			return nil, errors.ErrBind.Wrapf("%s is in use by a live listener", path)
		}

		logger.Infof("removing stale socket %s", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			release()
			return nil, errors.ErrBind.Wrapf("remove stale socket %s: %w", path, err)
		}
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		release()
		return nil, errors.ErrBind.Wrap(err)
	}
	listener.SetUnlinkOnClose(true)

	return &endpoint{
		path:     path,
		listener: listener,
		lock:     lock,
	}, nil
}

// close stops the listener, which unlinks the socket, and drops the lock.
func (endpoint *endpoint) close() error {
	err := endpoint.listener.Close()

	os.Remove(endpoint.lock.Name())
	return errors.Join(err, endpoint.lock.Close())
}
