//go:build linux && !noenclave

/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package main

import (
	"log"

	"github.com/edgelesssys/nsmbridge/bridge/nsm"
	"github.com/edgelesssys/nsmbridge/internal/constants"
	"github.com/edgelesssys/nsmbridge/internal/logging"
	"github.com/edgelesssys/nsmbridge/util"
	"github.com/mdlayher/vsock"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func main() {
	zapLogger, err := logging.New()
	if err != nil {
		log.Fatal(err)
	}
	defer zapLogger.Sync() // flushes buffer, if any

	port, err := util.GetenvUint32(constants.Port, constants.PortDefault)
	if err != nil {
		zapLogger.Fatal("Invalid vsock port", zap.Error(err))
	}
	lis, err := vsock.ListenContextID(unix.VMADDR_CID_ANY, port, nil)
	if err != nil {
		zapLogger.Fatal("Failed to bind vsock listener", zap.Uint32("port", port), zap.Error(err))
	}

	run(zapLogger, nsm.NewNSMAttester(nsm.OpenDefaultSession, zapLogger), lis)
}
