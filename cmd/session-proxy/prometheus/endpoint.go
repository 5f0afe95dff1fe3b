/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Juice-Labs/session-proxy/pkg/server"
)

// InitializeEndpoints serves the collector, plus Go runtime and process
// metrics, on /metrics.
func InitializeEndpoints(server *server.Server, collector *Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler := promhttp.HandlerFor(prometheus.Gatherers{registry, collector.Registry()}, promhttp.HandlerOpts{})
	server.AddEndpointHandler("GET", "/metrics", handler)
}
