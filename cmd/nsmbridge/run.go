/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgelesssys/nsmbridge/bridge/events"
	"github.com/edgelesssys/nsmbridge/bridge/framing"
	"github.com/edgelesssys/nsmbridge/bridge/nsm"
	"github.com/edgelesssys/nsmbridge/bridge/server"
	"github.com/edgelesssys/nsmbridge/internal/constants"
	"github.com/edgelesssys/nsmbridge/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Version is the bridge version.
var Version = "0.0.0" // Don't touch! Automatically injected at build-time.

// GitCommit is the git commit hash.
var GitCommit = "0000000000000000000000000000000000000000" // Don't touch! Automatically injected at build-time.

func run(log *zap.Logger, attester nsm.Attester, lis net.Listener) {
	log.Info("Starting nsmbridge", zap.String("version", Version), zap.String("commit", GitCommit))

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	log.Info("Loaded configuration",
		zap.String("framing", string(cfg.Framing)),
		zap.Int("bufferSize", cfg.BufferSize),
		zap.Duration("readTimeout", cfg.ReadTimeout),
		zap.Duration("writeTimeout", cfg.WriteTimeout),
	)

	// Create Prometheus resources and start the Prometheus server.
	eventlog := events.NewLog()
	var promFactoryPtr *promauto.Factory
	if promServerAddr := os.Getenv(constants.PromAddr); promServerAddr != "" {
		promRegistry := prometheus.NewRegistry()
		promFactory := promauto.With(promRegistry)
		promFactoryPtr = &promFactory
		promFactory.NewGauge(prometheus.GaugeOpts{
			Namespace: "nsmbridge",
			Name:      "version_info",
			Help:      "Version information of the bridge.",
			ConstLabels: map[string]string{
				"version": Version,
				"commit":  GitCommit,
			},
		})
		go server.RunPrometheusServer(promServerAddr, log, promRegistry, eventlog)
	}

	srv, err := server.New(attester, cfg, log, promFactoryPtr, eventlog)
	if err != nil {
		log.Fatal("Cannot create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx, lis); err != nil {
		log.Fatal("Server stopped unexpectedly", zap.Error(err))
	}
}

// loadConfig reads the server configuration from the environment.
func loadConfig() (server.Config, error) {
	mode, err := framing.ParseMode(util.Getenv(constants.Framing, constants.FramingDefault))
	if err != nil {
		return server.Config{}, err
	}
	bufferSize, err := util.GetenvInt(constants.BufferSize, constants.BufferSizeDefault)
	if err != nil {
		return server.Config{}, err
	}
	readTimeout, err := util.GetenvDuration(constants.ReadTimeout, constants.TimeoutDefault)
	if err != nil {
		return server.Config{}, err
	}
	writeTimeout, err := util.GetenvDuration(constants.WriteTimeout, constants.TimeoutDefault)
	if err != nil {
		return server.Config{}, err
	}

	return server.Config{
		Framing:      mode,
		BufferSize:   bufferSize,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, nil
}
