/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/forwarder"
)

func scrape(t *testing.T, collector *Collector) string {
	t.Helper()

	handler := promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	body, err := io.ReadAll(recorder.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector_CountsEvents(t *testing.T) {
	collector := NewCollector()

	info := forwarder.SessionInfo{Id: "a", Source: forwarder.SourceListener, StartedAt: time.Now()}
	collector.SessionStarted(info)
	collector.Relayed(forwarder.ToUpstream, 100, 2)
	collector.Relayed(forwarder.ToClient, 40, 0)
	collector.SessionEnded(info, errors.ErrRelay.Wrap(errors.New("broken pipe")))

	collector.SessionStarted(forwarder.SessionInfo{Id: "b", Source: forwarder.SourceSession, StartedAt: time.Now()})

	collector.UpstreamFailed(forwarder.SourceListener, errors.ErrUpstreamUnreachable)
	collector.AcceptFailed(errors.New("too many open files"))
	collector.SessionEnded(info, forwarder.ErrIdleTimeout)

	metrics := scrape(t, collector)

	for _, line := range []string{
		`session_proxy_forwarder_sessions_total{source="listener"} 1`,
		`session_proxy_forwarder_sessions_total{source="session"} 1`,
		`session_proxy_forwarder_sessions_active 0`,
		`session_proxy_forwarder_session_duration_seconds_count 2`,
		`session_proxy_forwarder_upstream_failures_total{source="listener"} 1`,
		`session_proxy_forwarder_upstream_failures_total{source="session"} 0`,
		`session_proxy_forwarder_relay_errors_total 1`,
		`session_proxy_forwarder_idle_timeouts_total 1`,
		`session_proxy_forwarder_bytes_relayed_total{direction="client_to_upstream"} 100`,
		`session_proxy_forwarder_bytes_relayed_total{direction="upstream_to_client"} 40`,
		`session_proxy_forwarder_fds_relayed_total{direction="client_to_upstream"} 2`,
		`session_proxy_forwarder_accept_errors_total 1`,
	} {
		require.Contains(t, metrics, line)
	}
}

func TestCollector_IndependentRegistries(t *testing.T) {
	first := NewCollector()
	second := NewCollector()

	first.AcceptFailed(errors.New("boom"))

	require.Contains(t, scrape(t, first), "session_proxy_forwarder_accept_errors_total 1")
	require.Contains(t, scrape(t, second), "session_proxy_forwarder_accept_errors_total 0")
}
