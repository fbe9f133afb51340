/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package nsm

import (
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/edgelesssys/nsmbridge/api/attestation"
	"github.com/hf/nsm/request"
	"github.com/hf/nsm/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubSession struct {
	res      response.Response
	sendErr  error
	closeErr error
	sent     []request.Request
	closed   int
}

func (s *stubSession) Send(req request.Request) (response.Response, error) {
	s.sent = append(s.sent, req)
	return s.res, s.sendErr
}

func (s *stubSession) Close() error {
	s.closed++
	return s.closeErr
}

func TestNSMAttester(t *testing.T) {
	someErr := errors.New("failed")

	testCases := map[string]struct {
		session    *stubSession
		openErr    error
		wantDoc    []byte
		wantErrMsg string
		wantLogged int
	}{
		"success": {
			session: &stubSession{res: response.Response{Attestation: &response.Attestation{Document: []byte{1, 2, 3}}}},
			wantDoc: []byte{1, 2, 3},
		},
		"open fails": {
			openErr:    someErr,
			wantErrMsg: "opening NSM session: failed",
		},
		"send fails": {
			session:    &stubSession{sendErr: someErr},
			wantErrMsg: "sending attestation request: failed",
		},
		"device error": {
			session:    &stubSession{res: response.Response{Error: "InputTooLarge"}},
			wantErrMsg: "NSM Error: InputTooLarge",
		},
		"unexpected response": {
			session:    &stubSession{res: response.Response{}},
			wantErrMsg: "NSM Error: Unexpected response type returned",
		},
		"attestation without document": {
			session:    &stubSession{res: response.Response{Attestation: &response.Attestation{}}},
			wantErrMsg: "NSM Error: Unexpected response type returned",
		},
		"close fails after success": {
			session:    &stubSession{res: response.Response{Attestation: &response.Attestation{Document: []byte{4}}}, closeErr: someErr},
			wantDoc:    []byte{4},
			wantLogged: 1,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			core, logs := observer.New(zap.ErrorLevel)
			open := func() (Session, error) {
				if tc.openErr != nil {
					return nil, tc.openErr
				}
				return tc.session, nil
			}
			attester := NewNSMAttester(open, zap.New(core))

			doc, err := attester.Attest([]byte("user"), []byte("nonce"))
			if tc.wantErrMsg != "" {
				assert.EqualError(err, tc.wantErrMsg)
				assert.Nil(doc)
			} else {
				assert.NoError(err)
				assert.Equal(tc.wantDoc, doc)
			}
			assert.Equal(tc.wantLogged, logs.Len())

			if tc.session == nil {
				return
			}
			assert.Equal(1, tc.session.closed)
			require.Len(t, tc.session.sent, 1)
			req, ok := tc.session.sent[0].(*request.Attestation)
			require.True(t, ok)
			assert.Equal([]byte("user"), req.UserData)
			assert.Equal([]byte("nonce"), req.Nonce)
			assert.Nil(req.PublicKey)
		})
	}
}

func TestMockAttester(t *testing.T) {
	assert := assert.New(t)

	mock := NewMockAttester([]byte("doc"))
	doc, err := mock.Attest([]byte("a"), []byte("b"))
	assert.NoError(err)
	assert.Equal([]byte("doc"), doc)
	assert.Equal([]Call{{UserData: []byte("a"), Nonce: []byte("b")}}, mock.Calls())

	failing := NewErrorMockAttester(errors.New("failed"))
	_, err = failing.Attest(nil, nil)
	assert.Error(err)
	assert.Len(failing.Calls(), 1)

	_, err = NewFailAttester().Attest(nil, nil)
	assert.Error(err)
}

func TestFakeAttester(t *testing.T) {
	testCases := map[string]struct {
		userData []byte
		nonce    []byte
		wantErr  bool
	}{
		"empty": {
			userData: []byte{},
			nonce:    []byte{},
		},
		"values": {
			userData: []byte("hello"),
			nonce:    []byte("world"),
		},
		"maximum size": {
			userData: make([]byte, attestation.MaxUserDataLen),
			nonce:    make([]byte, attestation.MaxNonceLen),
		},
		"user data too large": {
			userData: make([]byte, attestation.MaxUserDataLen+1),
			wantErr:  true,
		},
		"nonce too large": {
			nonce:   make([]byte, attestation.MaxNonceLen+1),
			wantErr: true,
		},
	}

	fake, err := NewFakeAttester(nil)
	require.NoError(t, err)
	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM(fake.RootPEM()))

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			doc, err := fake.Attest(tc.userData, tc.nonce)
			if tc.wantErr {
				assert.EqualError(err, "NSM Error: InputTooLarge")
				return
			}
			require.NoError(err)

			result, err := attestation.Verify(doc, attestation.Config{
				Roots:       roots,
				CurrentTime: time.Now(),
				PCRs:        map[uint][]byte{0: make([]byte, 48), 15: make([]byte, 48)},
			})
			require.NoError(err)
			assert.Len(result.Document.PCRs, 16)
			assert.Equal(len(tc.userData), len(result.Document.UserData))
			assert.Equal(len(tc.nonce), len(result.Document.Nonce))
		})
	}
}

func TestFakeAttesterCustomPCRs(t *testing.T) {
	require := require.New(t)

	pcrs := map[uint][]byte{0: make([]byte, 48), 4: make([]byte, 48)}
	pcrs[4][0] = 0x42
	fake, err := NewFakeAttester(pcrs)
	require.NoError(err)

	raw, err := fake.Attest([]byte("u"), []byte("n"))
	require.NoError(err)
	doc, err := attestation.ParseDocument(raw)
	require.NoError(err)
	require.Equal(pcrs, doc.PCRs)
}
