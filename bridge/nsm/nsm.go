/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package nsm

import (
	"errors"
	"fmt"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
	"github.com/hf/nsm/response"
	"go.uber.org/zap"
)

// Session is an open session with the NSM device.
type Session interface {
	Send(req request.Request) (response.Response, error)
	Close() error
}

// OpenFunc opens a new NSM session.
type OpenFunc func() (Session, error)

// OpenDefaultSession opens a session with /dev/nsm.
func OpenDefaultSession() (Session, error) {
	return nsm.OpenDefaultSession()
}

// NSMAttester requests attestation documents from the NSM device.
// Each call opens and closes its own session.
type NSMAttester struct {
	open OpenFunc
	log  *zap.Logger
}

// NewNSMAttester returns a new NSMAttester using the given session opener.
func NewNSMAttester(open OpenFunc, log *zap.Logger) *NSMAttester {
	return &NSMAttester{open: open, log: log}
}

// Attest implements the Attester interface.
func (a *NSMAttester) Attest(userData, nonce []byte) ([]byte, error) {
	sess, err := a.open()
	if err != nil {
		return nil, fmt.Errorf("opening NSM session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			a.log.Error("Failed to close NSM session", zap.Error(err))
		}
	}()

	a.log.Debug("Sending attestation request to NSM", zap.Int("userDataLen", len(userData)), zap.Int("nonceLen", len(nonce)))
	res, err := sess.Send(&request.Attestation{
		UserData:  userData,
		Nonce:     nonce,
		PublicKey: nil,
	})
	if err != nil {
		return nil, fmt.Errorf("sending attestation request: %w", err)
	}

	if res.Error != "" {
		return nil, fmt.Errorf("NSM Error: %s", res.Error)
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, errors.New("NSM Error: Unexpected response type returned")
	}
	return res.Attestation.Document, nil
}
