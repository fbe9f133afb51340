/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package logging

import (
	"fmt"
	"log"

	"github.com/edgelesssys/nsmbridge/internal/constants"
	"github.com/edgelesssys/nsmbridge/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a new [*zap.Logger] configured from the environment.
// opts are applied to the built logger.
func New(opts ...zap.Option) (*zap.Logger, error) {
	var cfg zap.Config
	if util.Getenv(constants.DevMode, constants.DevModeDefault) == "1" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = true
	}
	if level := util.Getenv(constants.LogLevel, ""); level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", constants.LogLevel, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build(opts...)
}

// NewWrapper creates a new [*log.Logger] that writes to the given [*zap.Logger].
func NewWrapper(zapLogger *zap.Logger) *log.Logger {
	return log.New(logWrapper{zapLogger}, "", 0)
}

// logWrapper implements [io.Writer] by writing any data to the error level of the embedded [*zap.Logger].
type logWrapper struct {
	*zap.Logger
}

func (l logWrapper) Write(p []byte) (n int, err error) {
	l.Error(string(p))
	return len(p), nil
}
