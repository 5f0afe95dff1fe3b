/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Juice-Labs/session-proxy/cmd/internal/build"
	"github.com/Juice-Labs/session-proxy/cmd/session-proxy/prometheus"
	"github.com/Juice-Labs/session-proxy/pkg/forwarder"
	pkgnet "github.com/Juice-Labs/session-proxy/pkg/net"
	"github.com/Juice-Labs/session-proxy/pkg/restapi"
)

func (daemon *Daemon) initializeEndpoints() {
	daemon.Server.AddEndpointFunc("GET", "/v1/status", daemon.getStatusEp)
	daemon.Server.AddEndpointFunc("GET", "/v1/session/{id}", daemon.getSessionEp)

	prometheus.InitializeEndpoints(daemon.Server, daemon.Collector)
}

func (daemon *Daemon) Status() restapi.Status {
	infos := daemon.Forwarder.Sessions()

	sessions := make([]restapi.Session, 0, len(infos))
	for _, info := range infos {
		sessions = append(sessions, toSession(info))
	}

	return restapi.Status{
		State:    daemon.State().String(),
		Version:  build.Version,
		Upstream: daemon.config.UpstreamPath,
		Listen:   daemon.config.ListenPath,
		Ready:    daemon.Readiness.Notified(),
		Sessions: sessions,
	}
}

func (daemon *Daemon) getStatusEp(w http.ResponseWriter, r *http.Request) {
	pkgnet.RespondOrLog(w, r, http.StatusOK, daemon.Status())
}

func (daemon *Daemon) getSessionEp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	for _, info := range daemon.Forwarder.Sessions() {
		if info.Id == id {
			pkgnet.RespondOrLog(w, r, http.StatusOK, toSession(info))
			return
		}
	}

	pkgnet.RespondOrLog(w, r, http.StatusNotFound, restapi.ErrorResponse{
		Error: fmt.Sprintf("no session found with id %s", id),
	})
}

func toSession(info forwarder.SessionInfo) restapi.Session {
	return restapi.Session{
		Id:              info.Id,
		Source:          string(info.Source),
		StartedAt:       info.StartedAt,
		BytesToUpstream: info.BytesToUpstream,
		BytesToClient:   info.BytesToClient,
		FdsRelayed:      info.FdsRelayed,
	}
}
