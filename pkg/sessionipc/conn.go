/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package sessionipc

import (
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/utilities"
)

const (
	// The session manager hands the inherited socket over in this variable.
	EnvSocketFd = "COSMIC_SESSION_SOCK"

	// MaxFds is SCM_MAX_FD, the most descriptors one message can carry.
	MaxFds = 253
)

// Conn is the daemon side of the session manager socket.
type Conn struct {
	conn *net.UnixConn

	readMutex  sync.Mutex
	writeMutex sync.Mutex
}

func NewConn(conn *net.UnixConn) *Conn {
	return &Conn{
		conn: conn,
	}
}

// ParseFd parses the value of EnvSocketFd.
func ParseFd(value string) (int, error) {
	fd, err := strconv.Atoi(value)
	if err != nil || fd < 0 {
		return -1, errors.ErrConfiguration.Wrapf("%s=%q is not a file descriptor", EnvSocketFd, value)
	}

	return fd, nil
}

// FromFd takes ownership of an inherited descriptor. It is marked
// close-on-exec first; a descriptor that cannot be is closed and rejected.
func FromFd(fd int) (*Conn, error) {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, errors.Newf("session socket fd %d", fd).Wrap(err)
	}

	file := os.NewFile(uintptr(fd), "session-socket")
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, errors.Newf("session socket fd %d", fd).Wrap(err)
	}

	unixConn, err := utilities.Cast[*net.UnixConn](conn)
	if err != nil {
		conn.Close()
		return nil, errors.Newf("session socket fd %d is not a unix socket", fd).Wrap(err)
	}

	return NewConn(unixConn), nil
}

func (conn *Conn) WriteMessage(message Message) error {
	conn.writeMutex.Lock()
	defer conn.writeMutex.Unlock()

	return Encode(conn.conn, message)
}

func (conn *Conn) ReadMessage() (Message, error) {
	conn.readMutex.Lock()
	defer conn.readMutex.Unlock()

	return Decode(conn.conn)
}

// ReceiveConns reads the descriptors announced by a new_privileged_client
// message. They ride on a single byte, which is consumed even when count is
// zero. Descriptors that are not sockets are closed and skipped, so fewer
// than count connections may be returned. A count the kernel could never
// deliver in one message is ErrInvalidMessage; its carrier byte is still
// consumed and any descriptors on it are closed.
func (conn *Conn) ReceiveConns(count int) ([]net.Conn, error) {
	if count < 0 {
		return nil, ErrInvalidMessage.Wrapf("negative descriptor count %d", count)
	}

	conn.readMutex.Lock()
	defer conn.readMutex.Unlock()

	buffer := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(max(min(count, MaxFds), 1)*4))

	n, oobn, flags, _, err := conn.conn.ReadMsgUnix(buffer, oob)
	if err != nil {
		return nil, err
	}
	if n == 0 && oobn == 0 {
		return nil, io.EOF
	}

	fds, err := parseRights(oob[:oobn])
	if err != nil {
		return nil, err
	}

	if count > MaxFds {
		closeFds(fds)
		return nil, ErrInvalidMessage.Wrapf("%d descriptors announced, at most %d fit in one message", count, MaxFds)
	}
	if count == 0 {
		closeFds(fds)
		return nil, nil
	}

	var result error
	if flags&unix.MSG_CTRUNC != 0 {
		result = errors.Newf("control message truncated, expected %d descriptors", count)
	}

	conns := make([]net.Conn, 0, len(fds))
	for _, fd := range fds {
		file := os.NewFile(uintptr(fd), "privileged-client")
		client, err := net.FileConn(file)
		file.Close()
		if err != nil {
			result = errors.Join(result, err)
			continue
		}
		conns = append(conns, client)
	}

	return conns, result
}

// SendFiles announces and hands over files, the way the session manager
// does.
func (conn *Conn) SendFiles(files ...*os.File) error {
	conn.writeMutex.Lock()
	defer conn.writeMutex.Unlock()

	if err := Encode(conn.conn, NewPrivilegedClient(len(files))); err != nil {
		return err
	}

	fds := make([]int, len(files))
	for index, file := range files {
		fds[index] = int(file.Fd())
	}

	var rights []byte
	if len(fds) > 0 {
		rights = unix.UnixRights(fds...)
	}

	_, _, err := conn.conn.WriteMsgUnix([]byte{0}, rights, nil)
	return err
}

func (conn *Conn) Close() error {
	return conn.conn.Close()
}

func parseRights(oob []byte) ([]int, error) {
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}

	var fds []int
	for index := range messages {
		rights, err := unix.ParseUnixRights(&messages[index])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}

	return fds, nil
}

func closeFds(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
