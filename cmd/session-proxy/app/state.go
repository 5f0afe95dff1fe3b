/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import "github.com/Juice-Labs/session-proxy/pkg/restapi"

type State int

const (
	StateInitializing State = iota
	StateListening
	StateReady
	StateShuttingDown
	StateStopped
	StateFailed
)

func (state State) String() string {
	switch state {
	case StateInitializing:
		return restapi.StateInitializing
	case StateListening:
		return restapi.StateListening
	case StateReady:
		return restapi.StateReady
	case StateShuttingDown:
		return restapi.StateShuttingDown
	case StateStopped:
		return restapi.StateStopped
	case StateFailed:
		return restapi.StateFailed
	}

	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (state State) Terminal() bool {
	return state == StateStopped || state == StateFailed
}
