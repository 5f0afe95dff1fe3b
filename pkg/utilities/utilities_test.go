/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package utilities

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
)

func TestCast(t *testing.T) {
	var conn net.Conn = &net.UnixConn{}

	unixConn, err := Cast[*net.UnixConn](conn)
	require.NoError(t, err)
	require.NotNil(t, unixConn)

	_, err = Cast[*net.TCPConn](conn)
	require.True(t, errors.Is(err, ErrInvalidCast))
}

func TestCommaValue(t *testing.T) {
	value := NewCommaValue("WAYLAND_DISPLAY")
	require.Equal(t, "WAYLAND_DISPLAY", value.String())

	require.NoError(t, value.Set("WAYLAND_DISPLAY, DISPLAY,,NIRI_SOCKET"))
	require.Equal(t, []string{"WAYLAND_DISPLAY", "DISPLAY", "NIRI_SOCKET"}, *value.Value)
	require.Equal(t, "WAYLAND_DISPLAY,DISPLAY,NIRI_SOCKET", value.String())
}

func TestCompareAndSet(t *testing.T) {
	variable := NewConcurrentVariableD(1)

	require.False(t, CompareAndSet(variable, func(current int) bool { return current == 2 }, 3))
	require.Equal(t, 1, variable.Get())

	require.True(t, CompareAndSet(variable, func(current int) bool { return current == 1 }, 3))
	require.Equal(t, 3, variable.Swap(4))
	require.Equal(t, 4, variable.Get())
}
