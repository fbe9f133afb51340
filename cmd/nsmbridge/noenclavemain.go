//go:build !linux || noenclave

/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package main

import (
	"log"
	"net"
	"os"

	"github.com/edgelesssys/nsmbridge/bridge/nsm"
	"github.com/edgelesssys/nsmbridge/internal/constants"
	"github.com/edgelesssys/nsmbridge/internal/logging"
	"github.com/edgelesssys/nsmbridge/util"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func main() {
	zapLogger, err := logging.New(zap.Fields(zap.Bool("fakeAttester", true)))
	if err != nil {
		log.Fatal(err)
	}
	defer zapLogger.Sync() // flushes buffer, if any

	attester, err := nsm.NewFakeAttester(nil)
	if err != nil {
		zapLogger.Fatal("Cannot create fake attester", zap.Error(err))
	}
	zapLogger.Warn("Running without NSM, attestation documents are signed by a self-generated root certificate")
	if rootCertPath := os.Getenv(constants.FakeRootCert); rootCertPath != "" {
		if err := afero.WriteFile(afero.NewOsFs(), rootCertPath, attester.RootPEM(), 0o644); err != nil {
			zapLogger.Fatal("Cannot write root certificate", zap.Error(err))
		}
		zapLogger.Info("Wrote root certificate", zap.String("path", rootCertPath))
	}

	addr := util.Getenv(constants.ListenAddr, constants.ListenAddrDefault)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		zapLogger.Fatal("Failed to bind listener", zap.String("address", addr), zap.Error(err))
	}

	run(zapLogger, attester, lis)
}
