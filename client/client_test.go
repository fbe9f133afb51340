/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package client

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/edgelesssys/nsmbridge/api/attestation"
	"github.com/edgelesssys/nsmbridge/bridge/framing"
	"github.com/edgelesssys/nsmbridge/bridge/nsm"
	"github.com/edgelesssys/nsmbridge/bridge/protocol"
	"github.com/edgelesssys/nsmbridge/bridge/server"
	"github.com/edgelesssys/nsmbridge/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseResponse(t *testing.T) {
	testCases := map[string]struct {
		resp       string
		wantDoc    []byte
		wantErr    bool
		wantSrvErr *ServerError
	}{
		"document": {
			resp:    `{"document":"AQID"}`,
			wantDoc: []byte{1, 2, 3},
		},
		"empty document": {
			resp:    `{"document":""}`,
			wantDoc: []byte{},
		},
		"invalid JSON error": {
			resp:       `{"error":"Invalid JSON request","message":"expected value at line 1 column 1"}`,
			wantErr:    true,
			wantSrvErr: &ServerError{Category: protocol.CategoryInvalidJSON, Message: "expected value at line 1 column 1"},
		},
		"NSM error": {
			resp:       `{"error":"NSM device not available","message":"NSM Error: InternalError","status":"NSM_UNAVAILABLE"}`,
			wantErr:    true,
			wantSrvErr: &ServerError{Category: protocol.CategoryNSMUnavailable, Message: "NSM Error: InternalError", Status: protocol.StatusNSMUnavailable},
		},
		"no document": {
			resp:    `{"foo":"bar"}`,
			wantErr: true,
		},
		"document not a string": {
			resp:    `{"document":123}`,
			wantErr: true,
		},
		"document not base64": {
			resp:    `{"document":"!!"}`,
			wantErr: true,
		},
		"not JSON": {
			resp:    `{"document":`,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			doc, err := parseResponse([]byte(tc.resp))
			if !tc.wantErr {
				assert.NoError(err)
				assert.Equal(tc.wantDoc, doc)
				return
			}
			assert.Error(err)
			var srvErr *ServerError
			if tc.wantSrvErr == nil {
				assert.False(errors.As(err, &srvErr))
				return
			}
			assert.True(errors.As(err, &srvErr))
			assert.Equal(tc.wantSrvErr, srvErr)
		})
	}
}

func TestServerError(t *testing.T) {
	assert := assert.New(t)

	err := &ServerError{Category: protocol.CategoryNSMUnavailable, Message: "NSM Error: InputTooLarge", Status: protocol.StatusNSMUnavailable}
	assert.Equal("NSM device not available: NSM Error: InputTooLarge (NSM_UNAVAILABLE)", err.Error())
	err = &ServerError{Category: protocol.CategoryInvalidJSON}
	assert.Equal("Invalid JSON request", err.Error())
}

func TestAttestReassemblesRawResponse(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverConn.Close()
		buf := make([]byte, 1024)
		n, err := serverConn.Read(buf)
		if err != nil {
			return
		}
		assert.JSONEq(`{"user-data":"aGVsbG8=","nonce":"d29ybGQ="}`, string(buf[:n]))
		// the response arrives in pieces
		_, _ = serverConn.Write([]byte(`{"docu`))
		_, _ = serverConn.Write([]byte(`ment":"AQID"}`))
	}()

	client, err := New(clientConn, framing.Raw, DefaultBufferSize)
	require.NoError(err)
	doc, err := client.Attest(context.Background(), []byte("hello"), []byte("world"))
	require.NoError(err)
	assert.Equal([]byte{1, 2, 3}, doc)
	require.NoError(client.Close())
	<-done
}

func TestAttestResponseTooLarge(t *testing.T) {
	require := require.New(t)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverConn.Close()
		if _, err := serverConn.Read(make([]byte, 1024)); err != nil {
			return
		}
		_, _ = serverConn.Write([]byte(`{"document":"AAAAAAAAAAAAAAAAAAAAAAAA`))
	}()

	client, err := New(clientConn, framing.Raw, 16)
	require.NoError(err)
	_, err = client.Attest(context.Background(), nil, nil)
	require.ErrorIs(err, framing.ErrMessageTooLarge)
	require.NoError(client.Close())
	<-done
}

func TestAttestTimeout(t *testing.T) {
	require := require.New(t)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		// read the request but never answer
		_, _ = serverConn.Read(make([]byte, 1024))
		_, _ = serverConn.Read(make([]byte, 1024))
	}()

	client, err := New(clientConn, framing.Raw, DefaultBufferSize)
	require.NoError(err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Attest(ctx, []byte("hello"), []byte("world"))
	require.ErrorIs(err, context.DeadlineExceeded)

	require.NoError(client.Close())
	<-done
	require.NoError(serverConn.Close())
}

func TestAttestEndToEnd(t *testing.T) {
	testCases := map[string]struct {
		mode framing.Mode
	}{
		"raw":    {mode: framing.Raw},
		"line":   {mode: framing.Line},
		"length": {mode: framing.Length},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			attester, err := nsm.NewFakeAttester(nil)
			require.NoError(err)
			cfg := server.DefaultConfig()
			cfg.Framing = tc.mode
			srv, err := server.New(attester, cfg, zaptest.NewLogger(t), nil, nil)
			require.NoError(err)

			lis, addr := util.MustGetLocalListenerAndAddr()
			ctx, cancel := context.WithCancel(context.Background())
			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Serve(ctx, lis) }()
			defer func() {
				cancel()
				assert.NoError(<-serveErr)
			}()

			conn, err := DialTCP(ctx, addr)
			require.NoError(err)
			client, err := New(conn, tc.mode, DefaultBufferSize)
			require.NoError(err)
			defer client.Close()

			roots := x509.NewCertPool()
			require.True(roots.AppendCertsFromPEM(attester.RootPEM()))

			for _, nonce := range [][]byte{[]byte("first"), []byte("second")} {
				doc, err := client.Attest(ctx, []byte("hello"), nonce)
				require.NoError(err)
				_, err = attestation.Verify(doc, attestation.Config{
					Roots:    roots,
					PCRs:     map[uint][]byte{0: make([]byte, 48)},
					UserData: []byte("hello"),
					Nonce:    nonce,
				})
				assert.NoError(err)
			}

			_, err = client.Attest(ctx, make([]byte, attestation.MaxUserDataLen+1), nil)
			var srvErr *ServerError
			require.ErrorAs(err, &srvErr)
			assert.Equal(protocol.CategoryNSMUnavailable, srvErr.Category)
			assert.Equal(protocol.StatusNSMUnavailable, srvErr.Status)
		})
	}
}
