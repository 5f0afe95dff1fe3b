/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package sessionipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/testutil"
)

func socketPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	left, err := FromFd(fds[0])
	require.NoError(t, err)
	right, err := FromFd(fds[1])
	require.NoError(t, err)

	t.Cleanup(func() {
		left.Close()
		right.Close()
	})

	return left, right
}

func TestEncode_Frame(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, Encode(&buffer, SetEnv(map[string]string{"WAYLAND_DISPLAY": "wayland-1"})))

	frame := buffer.Bytes()
	body := `{"message":"set_env","variables":{"WAYLAND_DISPLAY":"wayland-1"}}`
	require.Equal(t, uint16(len(body)), binary.NativeEndian.Uint16(frame))
	require.Equal(t, body, string(frame[headerSize:]))
}

func TestEncode_NewPrivilegedClient(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, Encode(&buffer, NewPrivilegedClient(3)))
	require.Equal(t, `{"message":"new_privileged_client","count":3}`, string(buffer.Bytes()[headerSize:]))
}

func TestEncode_RejectsOversizedMessage(t *testing.T) {
	var buffer bytes.Buffer
	err := Encode(&buffer, SetEnv(map[string]string{"HUGE": strings.Repeat("x", MaxMessageSize)}))
	require.True(t, errors.Is(err, ErrMessageTooLarge))
	require.Zero(t, buffer.Len(), "partial frame written")
}

func TestDecode(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, Encode(&buffer, NewPrivilegedClient(2)))
	require.NoError(t, Encode(&buffer, SetEnv(map[string]string{"DISPLAY": ":1"})))

	first, err := Decode(&buffer)
	require.NoError(t, err)
	require.Equal(t, NewPrivilegedClient(2), first)

	second, err := Decode(&buffer)
	require.NoError(t, err)
	require.Equal(t, KindSetEnv, second.Kind)
	require.Equal(t, ":1", second.Variables["DISPLAY"])

	_, err = Decode(&buffer)
	require.ErrorIs(t, err, io.EOF)
}

func TestDecode_Truncated(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, Encode(&buffer, NewPrivilegedClient(1)))

	_, err := Decode(bytes.NewReader(buffer.Bytes()[:buffer.Len()-1]))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecode_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":    "not json",
		"missing tag": `{"count":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			frame := make([]byte, headerSize+len(body))
			binary.NativeEndian.PutUint16(frame, uint16(len(body)))
			copy(frame[headerSize:], body)

			_, err := Decode(bytes.NewReader(frame))
			require.True(t, errors.Is(err, ErrInvalidMessage), "got %v", err)
		})
	}
}

func TestDecode_UnknownKindIsReturned(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, Encode(&buffer, Message{Kind: "shutdown"}))

	message, err := Decode(&buffer)
	require.NoError(t, err)
	require.Equal(t, "shutdown", message.Kind)
}

func TestParseFd(t *testing.T) {
	fd, err := ParseFd("7")
	require.NoError(t, err)
	require.Equal(t, 7, fd)

	for _, value := range []string{"", "seven", "-1"} {
		_, err := ParseFd(value)
		require.True(t, errors.Is(err, errors.ErrConfiguration), "value %q", value)
	}
}

func TestFromFd_RejectsBadDescriptors(t *testing.T) {
	_, err := FromFd(-1)
	require.Error(t, err)

	file, err := os.CreateTemp(t.TempDir(), "not-a-socket")
	require.NoError(t, err)
	defer file.Close()

	fd, err := unix.Dup(int(file.Fd()))
	require.NoError(t, err)

	_, err = FromFd(fd)
	require.Error(t, err)
}

func TestConn_MessagesAndClients(t *testing.T) {
	daemon, manager := socketPair(t)

	// Two connected client sockets, handed over the way the session manager
	// passes privileged clients.
	var clientEnds []net.Conn
	var handedOver []*os.File
	for i := 0; i < 2; i++ {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		require.NoError(t, err)

		local := os.NewFile(uintptr(fds[0]), "client")
		connection, err := net.FileConn(local)
		local.Close()
		require.NoError(t, err)
		clientEnds = append(clientEnds, connection)
		defer connection.Close()

		handedOver = append(handedOver, os.NewFile(uintptr(fds[1]), "handed-over"))
	}

	require.NoError(t, manager.SendFiles(handedOver...))
	for _, file := range handedOver {
		file.Close()
	}
	require.NoError(t, manager.WriteMessage(SetEnv(map[string]string{"A": "b"})))

	message, err := daemon.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, KindNewPrivilegedClient, message.Kind)
	require.Equal(t, 2, message.Count)

	conns, err := daemon.ReceiveConns(message.Count)
	require.NoError(t, err)
	require.Len(t, conns, 2)

	// The framing must be intact after the descriptor byte.
	message, err = daemon.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, SetEnv(map[string]string{"A": "b"}), message)

	// Received connections are live peers of the client ends.
	for index, received := range conns {
		defer received.Close()

		_, err := clientEnds[index].Write([]byte("ping"))
		require.NoError(t, err)

		buffer := make([]byte, 4)
		received.SetReadDeadline(time.Now().Add(testutil.DefaultTimeout))
		_, err = io.ReadFull(received, buffer)
		require.NoError(t, err)
		require.Equal(t, "ping", string(buffer))
	}
}

func TestConn_ReadMessageAfterPeerClose(t *testing.T) {
	daemon, manager := socketPair(t)
	manager.Close()

	_, err := daemon.ReadMessage()
	require.ErrorIs(t, err, io.EOF)
}

func TestEncode_SetEnvAlwaysCarriesVariables(t *testing.T) {
	for name, variables := range map[string]map[string]string{
		"nil":   nil,
		"empty": {},
	} {
		t.Run(name, func(t *testing.T) {
			var buffer bytes.Buffer
			require.NoError(t, Encode(&buffer, SetEnv(variables)))
			require.Equal(t, `{"message":"set_env","variables":{}}`, string(buffer.Bytes()[headerSize:]))
		})
	}

	var buffer bytes.Buffer
	require.NoError(t, Encode(&buffer, NewPrivilegedClient(0)))
	require.Equal(t, `{"message":"new_privileged_client","count":0}`, string(buffer.Bytes()[headerSize:]))
}

func TestConn_ZeroClientsKeepsFraming(t *testing.T) {
	daemon, manager := socketPair(t)

	require.NoError(t, manager.SendFiles())
	require.NoError(t, manager.WriteMessage(SetEnv(map[string]string{"A": "b"})))

	message, err := daemon.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, NewPrivilegedClient(0), message)

	conns, err := daemon.ReceiveConns(message.Count)
	require.NoError(t, err)
	require.Empty(t, conns)

	message = readWithin(t, daemon)
	require.Equal(t, SetEnv(map[string]string{"A": "b"}), message)
}

func TestConn_ImpossibleClientCountIsInvalid(t *testing.T) {
	daemon, manager := socketPair(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, manager.WriteMessage(NewPrivilegedClient(1<<45)))
	_, _, err = manager.conn.WriteMsgUnix([]byte{0}, unix.UnixRights(fds[1]), nil)
	require.NoError(t, err)
	require.NoError(t, manager.WriteMessage(SetEnv(map[string]string{"A": "b"})))

	message, err := daemon.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, 1<<45, message.Count)

	conns, err := daemon.ReceiveConns(message.Count)
	require.True(t, errors.Is(err, ErrInvalidMessage), "got %v", err)
	require.Empty(t, conns)

	_, err = daemon.ReceiveConns(-1)
	require.True(t, errors.Is(err, ErrInvalidMessage), "got %v", err)

	message = readWithin(t, daemon)
	require.Equal(t, SetEnv(map[string]string{"A": "b"}), message)
}

func readWithin(t *testing.T, conn *Conn) Message {
	t.Helper()

	conn.conn.SetReadDeadline(time.Now().Add(testutil.DefaultTimeout))
	defer conn.conn.SetReadDeadline(time.Time{})

	message, err := conn.ReadMessage()
	require.NoError(t, err, "framing lost after the descriptor byte")
	return message
}
