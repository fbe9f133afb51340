/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package server

import (
	"net/http"

	"github.com/edgelesssys/nsmbridge/bridge/events"
	"github.com/edgelesssys/nsmbridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewPrometheusMux creates a mux serving the metrics of reg on /metrics and eventlog on /events.
func NewPrometheusMux(zapLogger *zap.Logger, reg *prometheus.Registry, eventlog *events.Log) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: logging.NewWrapper(zapLogger),
		Registry: reg,
	})))
	mux.Handle("/events", eventlog.Handler())
	return mux
}

// RunPrometheusServer runs a HTTP server handling the prometheus metrics endpoint.
func RunPrometheusServer(address string, zapLogger *zap.Logger, reg *prometheus.Registry, eventlog *events.Log) {
	server := http.Server{
		Addr:     address,
		Handler:  NewPrometheusMux(zapLogger, reg, eventlog),
		ErrorLog: logging.NewWrapper(zapLogger),
	}
	zapLogger.Info("Starting prometheus /metrics endpoint", zap.String("address", address))
	err := server.ListenAndServe()
	zapLogger.Warn(err.Error())
}
