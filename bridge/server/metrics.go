/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Values of the result label of the requests metric.
const (
	resultSuccess         = "success"
	resultInvalidJSON     = "invalid_json"
	resultInvalidUserData = "invalid_user_data"
	resultInvalidNonce    = "invalid_nonce"
	resultNSMError        = "nsm_error"
)

type serverMetrics struct {
	connections  prometheus.Counter
	acceptErrors prometheus.Counter
	requests     *prometheus.CounterVec
	nsmDuration  prometheus.Histogram
}

// newServerMetrics creates the metrics of the server.
// If factory is nil, the metrics are not registered anywhere.
func newServerMetrics(factory *promauto.Factory, namespace string, subsystem string) *serverMetrics {
	if factory == nil {
		unregistered := promauto.With(nil)
		factory = &unregistered
	}
	return &serverMetrics{
		connections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connections_total",
				Help:      "Number of accepted connections.",
			},
		),
		acceptErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "accept_errors_total",
				Help:      "Number of failed attempts to accept a connection.",
			},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Number of handled attestation requests by result.",
			},
			[]string{"result"},
		),
		nsmDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "nsm_request_duration_seconds",
				Help:      "Duration of attestation requests to the NSM.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
	}
}
