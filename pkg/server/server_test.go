/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	pkgnet "github.com/Juice-Labs/session-proxy/pkg/net"
	"github.com/Juice-Labs/session-proxy/pkg/restapi"
	"github.com/Juice-Labs/session-proxy/pkg/task"
	"github.com/Juice-Labs/session-proxy/pkg/testutil"
)

func TestNewServer_InvalidAddress(t *testing.T) {
	for _, address := range []string{"localhost", "localhost:http", "localhost:70000"} {
		_, err := NewServer(address, nil)
		require.True(t, errors.Is(err, ErrInvalidPort), "address %q", address)
	}
}

func TestServer_ServesUntilCancelled(t *testing.T) {
	server, err := NewServer("127.0.0.1:0", nil)
	require.NoError(t, err)

	server.AddEndpointFunc("GET", "/v1/status", func(w http.ResponseWriter, r *http.Request) {
		pkgnet.RespondOrLog(w, r, http.StatusOK, restapi.Status{State: restapi.StateReady, Ready: true})
	})
	require.NoError(t, server.Listen())

	taskManager := task.NewTaskManager(context.Background())
	require.NoError(t, server.Run(taskManager))

	client := restapi.Client{
		Client:  &http.Client{Timeout: testutil.DefaultTimeout},
		Scheme:  "http",
		Address: server.Addr(),
	}

	require.NoError(t, client.Health())

	status, err := client.Status()
	require.NoError(t, err)
	require.Equal(t, restapi.StateReady, status.State)
	require.True(t, status.Ready)

	_, err = client.GetSession("missing")
	require.Error(t, err)

	taskManager.Cancel()

	waited := make(chan error, 1)
	go func() { waited <- taskManager.Wait() }()
	require.NoError(t, testutil.RequireReceive(t, waited, testutil.DefaultTimeout, "server shutdown"))

	client.Client.Timeout = 500 * time.Millisecond
	require.Error(t, client.Health())
}
