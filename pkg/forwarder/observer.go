/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package forwarder

// Source identifies how a client connection reached the forwarder.
type Source string

const (
	// Accepted on the listening socket.
	SourceListener Source = "listener"
	// Handed over by the session manager.
	SourceSession Source = "session"
)

// Direction names one half of a session.
type Direction string

const (
	ToUpstream Direction = "client_to_upstream"
	ToClient   Direction = "upstream_to_client"
)

// Observer receives forwarder events. Calls arrive concurrently from many
// sessions and must not block.
type Observer interface {
	SessionStarted(info SessionInfo)
	SessionEnded(info SessionInfo, err error)
	UpstreamFailed(source Source, err error)
	Relayed(direction Direction, bytes int, fds int)
	AcceptFailed(err error)
}

type observers []Observer

func (list observers) SessionStarted(info SessionInfo) {
	for _, observer := range list {
		observer.SessionStarted(info)
	}
}

func (list observers) SessionEnded(info SessionInfo, err error) {
	for _, observer := range list {
		observer.SessionEnded(info, err)
	}
}

func (list observers) UpstreamFailed(source Source, err error) {
	for _, observer := range list {
		observer.UpstreamFailed(source, err)
	}
}

func (list observers) Relayed(direction Direction, bytes int, fds int) {
	for _, observer := range list {
		observer.Relayed(direction, bytes, fds)
	}
}

func (list observers) AcceptFailed(err error) {
	for _, observer := range list {
		observer.AcceptFailed(err)
	}
}
