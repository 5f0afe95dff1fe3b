/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package forwarder

import (
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/utilities"
)

const (
	bufferSize = 32 * 1024

	// libwayland never attaches more than 28 descriptors to one sendmsg.
	maxFdsPerMessage = 28
)

var (
	ErrIdleTimeout = errors.New("session idle timeout")
)

// half is one direction of a session.
type half struct {
	direction Direction
	src       net.Conn
	dst       net.Conn
	counter   *atomic.Int64
}

// relay copies both directions concurrently and returns once both are done.
// A clean end-of-output is propagated with CloseWrite; anything else closes
// the whole session so the surviving direction unblocks.
func (session *Session) relay(idleTimeout time.Duration, events Observer) error {
	halves := [2]half{
		{ToUpstream, session.client, session.upstream, &session.bytesToUpstream},
		{ToClient, session.upstream, session.client, &session.bytesToClient},
	}

	var results [2]error
	var waitGroup sync.WaitGroup
	waitGroup.Add(len(halves))

	for index := range halves {
		go func(index int) {
			defer waitGroup.Done()

			err := session.pipe(halves[index], idleTimeout, events)
			if err != nil {
				session.Close()
			}
			results[index] = err
		}(index)
	}

	waitGroup.Wait()

	var result error
	for index, err := range results {
		switch {
		case err == nil:
		case errors.Is(err, ErrIdleTimeout):
			session.log.Infof("closing idle session after %s", idleTimeout)
			result = errors.Join(result, err)
		case IsExpectedCloseError(err):
			session.log.Debugf("%s ended: %v", halves[index].direction, err)
		default:
			session.log.Warnf("%s failed: %v", halves[index].direction, err)
			result = errors.Join(result, errors.ErrRelay.Wrapf("%s: %w", halves[index].direction, err))
		}
	}

	return result
}

// pipe copies src to dst until end-of-output or error. When both ends are
// Unix sockets, descriptors received with a chunk are sent with the first
// write of that chunk.
func (session *Session) pipe(h half, idleTimeout time.Duration, events Observer) error {
	buffer := make([]byte, bufferSize)

	srcUnix, srcErr := utilities.Cast[*net.UnixConn](h.src)
	dstUnix, dstErr := utilities.Cast[*net.UnixConn](h.dst)
	passFds := srcErr == nil && dstErr == nil

	var oob []byte
	if passFds {
		oob = make([]byte, unix.CmsgSpace(maxFdsPerMessage*4))
	}

	for {
		if idleTimeout > 0 {
			h.src.SetReadDeadline(time.Now().Add(idleTimeout))
		}

		var n, oobn, flags int
		var err error
		if passFds {
			n, oobn, flags, _, err = srcUnix.ReadMsgUnix(buffer, oob)
			if flags&unix.MSG_CTRUNC != 0 {
				session.log.Warnf("%s: control message truncated, descriptors dropped", h.direction)
			}
		} else {
			n, err = h.src.Read(buffer)
		}

		var fds []int
		if oobn > 0 {
			fds = parseRights(oob[:oobn])
		}

		if n > 0 {
			session.touch()

			session.writing.Add(1)
			writeErr := writeChunk(h.dst, dstUnix, buffer[:n], fds)
			session.writing.Add(-1)
			session.touch()
			closeFds(fds)
			if writeErr != nil {
				return writeErr
			}

			h.counter.Add(int64(n))
			session.fdsRelayed.Add(int64(len(fds)))
			events.Relayed(h.direction, n, len(fds))
		} else {
			// Ancillary data needs at least one byte to ride on.
			closeFds(fds)
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if session.idleFor() < idleTimeout {
					continue
				}
				return ErrIdleTimeout
			}
			if errors.Is(err, io.EOF) {
				closeWrite(h.dst)
				return nil
			}
			return err
		}

		// recvmsg reports end-of-output as an empty read without error.
		if passFds && n == 0 && oobn == 0 {
			closeWrite(h.dst)
			return nil
		}
	}
}

func writeChunk(dst net.Conn, dstUnix *net.UnixConn, data []byte, fds []int) error {
	if len(fds) > 0 && dstUnix != nil {
		n, _, err := dstUnix.WriteMsgUnix(data, unix.UnixRights(fds...), nil)
		if err != nil {
			return err
		}
		data = data[n:]
	}

	if len(data) > 0 {
		_, err := dst.Write(data)
		return err
	}

	return nil
}

func parseRights(oob []byte) []int {
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}

	var fds []int
	for index := range messages {
		rights, err := unix.ParseUnixRights(&messages[index])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}

	return fds
}

func closeFds(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
