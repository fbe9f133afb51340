/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package main

import (
	"testing"
	"time"

	"github.com/edgelesssys/nsmbridge/bridge/framing"
	"github.com/edgelesssys/nsmbridge/bridge/server"
	"github.com/edgelesssys/nsmbridge/internal/constants"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	testCases := map[string]struct {
		env     map[string]string
		want    server.Config
		wantErr bool
	}{
		"defaults": {
			want: server.DefaultConfig(),
		},
		"all set": {
			env: map[string]string{
				constants.Framing:      "length",
				constants.BufferSize:   "1024",
				constants.ReadTimeout:  "30s",
				constants.WriteTimeout: "5s",
			},
			want: server.Config{Framing: framing.Length, BufferSize: 1024, ReadTimeout: 30 * time.Second, WriteTimeout: 5 * time.Second},
		},
		"invalid framing": {
			env:     map[string]string{constants.Framing: "http"},
			wantErr: true,
		},
		"invalid buffer size": {
			env:     map[string]string{constants.BufferSize: "0"},
			wantErr: true,
		},
		"invalid read timeout": {
			env:     map[string]string{constants.ReadTimeout: "soon"},
			wantErr: true,
		},
		"negative write timeout": {
			env:     map[string]string{constants.WriteTimeout: "-1s"},
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			for _, key := range []string{constants.Framing, constants.BufferSize, constants.ReadTimeout, constants.WriteTimeout} {
				t.Setenv(key, tc.env[key])
			}

			got, err := loadConfig()
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}
