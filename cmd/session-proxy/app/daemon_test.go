/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/restapi"
	"github.com/Juice-Labs/session-proxy/pkg/sessionipc"
	"github.com/Juice-Labs/session-proxy/pkg/task"
	"github.com/Juice-Labs/session-proxy/pkg/testutil"
)

func testConfig(directory string, upstreamPath string) Config {
	return Config{
		UpstreamPath:  upstreamPath,
		ListenPath:    filepath.Join(directory, "wayland-test-privileged"),
		SessionFd:     -1,
		SystemdNotify: NotifyNever,
		EnvVars:       DefaultEnvVars,
		DialTimeout:   testutil.DefaultTimeout,
		Lookup: lookupFrom(map[string]string{
			"WAYLAND_DISPLAY": "wayland-test",
			"DISPLAY":         ":7",
		}),
	}
}

// sessionManager returns the descriptor to hand to the daemon and the
// manager's end of the session socket.
func sessionManager(t *testing.T) (int, *sessionipc.Conn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	manager, err := sessionipc.FromFd(fds[1])
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return fds[0], manager
}

func readMessage(t *testing.T, manager *sessionipc.Conn) sessionipc.Message {
	t.Helper()

	type result struct {
		message sessionipc.Message
		err     error
	}
	results := make(chan result, 1)
	go func() {
		message, err := manager.ReadMessage()
		results <- result{message, err}
	}()

	received := testutil.RequireReceive(t, results, testutil.DefaultTimeout, "session manager message")
	require.NoError(t, received.err)
	return received.message
}

func runDaemon(t *testing.T, daemon *Daemon) *task.TaskManager {
	t.Helper()

	taskManager := task.NewTaskManager(context.Background())
	taskManager.GoFn("Daemon", daemon.Run)

	t.Cleanup(func() {
		taskManager.Cancel()
		daemon.Forwarder.CloseSessions()
		taskManager.Wait()
	})

	return taskManager
}

func waitForState(t *testing.T, daemon *Daemon, state State) {
	t.Helper()

	require.Eventually(t, func() bool {
		return daemon.State() == state
	}, testutil.DefaultTimeout, 5*time.Millisecond, "daemon never reached %s, is %s", state, daemon.State())
}

func roundTrip(t *testing.T, connection net.Conn, payload string) {
	t.Helper()

	_, err := connection.Write([]byte(payload))
	require.NoError(t, err)

	response := make([]byte, len(payload))
	connection.SetReadDeadline(time.Now().Add(testutil.DefaultTimeout))
	_, err = io.ReadFull(connection, response)
	require.NoError(t, err)
	require.Equal(t, payload, string(response))
}

func TestDaemon_LifecycleWithSessionManager(t *testing.T) {
	directory := testutil.SocketDir(t)
	upstream := testutil.EchoUpstream(t, directory)

	config := testConfig(directory, upstream.Path)
	sessionFd, manager := sessionManager(t)
	config.SessionFd = sessionFd

	daemon, err := NewDaemon(config)
	require.NoError(t, err)
	require.Equal(t, StateInitializing, daemon.State())

	taskManager := runDaemon(t, daemon)

	// Readiness is only announced once the privileged socket accepts.
	message := readMessage(t, manager)
	require.Equal(t, sessionipc.SetEnv(map[string]string{
		"WAYLAND_DISPLAY": "wayland-test",
		"DISPLAY":         ":7",
	}), message)

	direct, err := net.Dial("unix", config.ListenPath)
	require.NoError(t, err)
	defer direct.Close()
	roundTrip(t, direct, "through the listener")

	waitForState(t, daemon, StateReady)
	require.True(t, daemon.Readiness.Notified())

	// Ignored messages do not disturb the hand-over that follows.
	require.NoError(t, manager.WriteMessage(sessionipc.Message{Kind: "reload"}))
	require.NoError(t, manager.WriteMessage(sessionipc.SetEnv(nil)))

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	clientFile := os.NewFile(uintptr(fds[0]), "client")
	handedOver := os.NewFile(uintptr(fds[1]), "handed-over")

	client, err := net.FileConn(clientFile)
	clientFile.Close()
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, manager.SendFiles(handedOver))
	handedOver.Close()

	roundTrip(t, client, "handed over by the session manager")
	require.EqualValues(t, 2, upstream.Accepted())

	sources := map[string]int{}
	for _, session := range daemon.Status().Sessions {
		sources[session.Source]++
	}
	require.Equal(t, map[string]int{restapi.SourceListener: 1, restapi.SourceSession: 1}, sources)

	taskManager.Cancel()
	waitForState(t, daemon, StateShuttingDown)

	require.Eventually(t, func() bool {
		_, err := os.Stat(config.ListenPath)
		return os.IsNotExist(err)
	}, testutil.DefaultTimeout, 5*time.Millisecond, "listening socket not removed")
	_, err = net.Dial("unix", config.ListenPath)
	require.Error(t, err)

	// Running sessions keep relaying while the daemon drains.
	roundTrip(t, client, "still draining")

	direct.Close()
	client.Close()

	waited := make(chan error, 1)
	go func() { waited <- taskManager.Wait() }()
	require.NoError(t, testutil.RequireReceive(t, waited, testutil.DefaultTimeout, "daemon shutdown"))
	require.Equal(t, StateStopped, daemon.State())
}

func TestDaemon_BindFailureIsFatal(t *testing.T) {
	directory := testutil.SocketDir(t)
	upstream := testutil.EchoUpstream(t, directory)

	config := testConfig(directory, upstream.Path)
	require.NoError(t, os.WriteFile(config.ListenPath, []byte("occupied"), 0o600))

	sessionFd, manager := sessionManager(t)
	config.SessionFd = sessionFd

	daemon, err := NewDaemon(config)
	require.NoError(t, err)

	taskManager := task.NewTaskManager(context.Background())
	taskManager.GoFn("Daemon", daemon.Run)

	err = taskManager.Wait()
	require.True(t, errors.Is(err, errors.ErrBind), "got %v", err)
	require.True(t, errors.IsFatal(err))
	require.Equal(t, StateFailed, daemon.State())
	require.False(t, daemon.Readiness.Notified())

	// The session manager sees the socket close without a readiness message.
	_, err = manager.ReadMessage()
	require.ErrorIs(t, err, io.EOF)
}

func TestDaemon_StatusEndpoints(t *testing.T) {
	directory := testutil.SocketDir(t)
	upstream := testutil.EchoUpstream(t, directory)

	config := testConfig(directory, upstream.Path)
	config.MetricsAddress = "127.0.0.1:0"

	daemon, err := NewDaemon(config)
	require.NoError(t, err)
	runDaemon(t, daemon)
	waitForState(t, daemon, StateReady)

	connection, err := net.Dial("unix", config.ListenPath)
	require.NoError(t, err)
	defer connection.Close()
	roundTrip(t, connection, "status")

	client := restapi.Client{
		Client:  &http.Client{Timeout: testutil.DefaultTimeout},
		Scheme:  "http",
		Address: daemon.Server.Addr(),
	}

	require.NoError(t, client.Health())

	status, err := client.Status()
	require.NoError(t, err)
	require.Equal(t, restapi.StateReady, status.State)
	require.True(t, status.Ready)
	require.Equal(t, upstream.Path, status.Upstream)
	require.Equal(t, config.ListenPath, status.Listen)
	require.Len(t, status.Sessions, 1)
	require.Equal(t, restapi.SourceListener, status.Sessions[0].Source)

	session, err := client.GetSession(status.Sessions[0].Id)
	require.NoError(t, err)
	require.Equal(t, status.Sessions[0].Id, session.Id)

	_, err = client.GetSession("00000000-0000-0000-0000-000000000000")
	require.Error(t, err)

	metrics, err := client.Metrics()
	require.NoError(t, err)
	require.Contains(t, metrics, `session_proxy_forwarder_sessions_total{source="listener"} 1`)
	require.Contains(t, metrics, "go_goroutines")
}

func TestNewDaemon_RejectsInvalidConfig(t *testing.T) {
	directory := testutil.SocketDir(t)

	config := testConfig(directory, filepath.Join(directory, "wayland-test"))
	config.SystemdNotify = "maybe"
	_, err := NewDaemon(config)
	require.True(t, errors.Is(err, errors.ErrConfiguration))

	config = testConfig(directory, filepath.Join(directory, "wayland-test"))
	config.MetricsAddress = "no-port"
	_, err = NewDaemon(config)
	require.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "shutting_down", StateShuttingDown.String())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateListening.Terminal())
}

func TestDaemon_AnnouncesUpstreamWithoutEnvironment(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "")

	directory := testutil.SocketDir(t)
	upstream := testutil.EchoUpstream(t, directory)

	config := testConfig(directory, upstream.Path)
	config.Lookup = nil
	config.EnvVars = []string{"WAYLAND_DISPLAY"}
	sessionFd, manager := sessionManager(t)
	config.SessionFd = sessionFd

	daemon, err := NewDaemon(config)
	require.NoError(t, err)
	runDaemon(t, daemon)

	message := readMessage(t, manager)
	require.Equal(t, sessionipc.SetEnv(map[string]string{"WAYLAND_DISPLAY": upstream.Path}), message)
	waitForState(t, daemon, StateReady)
}
