/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package restapi

import "time"

const (
	StateInitializing = "initializing"
	StateListening    = "listening"
	StateReady        = "ready"
	StateShuttingDown = "shutting_down"
	StateStopped      = "stopped"
	StateFailed       = "failed"
)

const (
	SourceListener = "listener"
	SourceSession  = "session"
)

type Session struct {
	Id        string    `json:"id"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"startedAt"`

	BytesToUpstream int64 `json:"bytesToUpstream"`
	BytesToClient   int64 `json:"bytesToClient"`
	FdsRelayed      int64 `json:"fdsRelayed"`
}

type Status struct {
	State   string `json:"state"`
	Version string `json:"version"`

	Upstream string `json:"upstream"`
	Listen   string `json:"listen"`
	Ready    bool   `json:"ready"`

	// Oldest first.
	Sessions []Session `json:"sessions"`
}
