/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package nsm

import (
	"bytes"
	"errors"
	"maps"
	"time"

	"github.com/edgelesssys/nsmbridge/api/attestation"
)

const (
	fakeModuleID = "i-00000000000000000-enc0000000000000000"
	fakePCRCount = 16
	fakePCRLen   = 48
)

// FakeAttester issues attestation documents signed by a self-generated certificate chain.
// It is used outside of Nitro Enclaves and enforces the same input limits as the NSM.
type FakeAttester struct {
	issuer *attestation.Issuer
	pcrs   map[uint][]byte
}

// NewFakeAttester returns a new FakeAttester. If pcrs is nil, PCR0 to PCR15 are zero.
func NewFakeAttester(pcrs map[uint][]byte) (*FakeAttester, error) {
	issuer, err := attestation.NewIssuer(365 * 24 * time.Hour)
	if err != nil {
		return nil, err
	}
	if pcrs == nil {
		pcrs = make(map[uint][]byte, fakePCRCount)
		for i := range uint(fakePCRCount) {
			pcrs[i] = make([]byte, fakePCRLen)
		}
	}
	return &FakeAttester{issuer: issuer, pcrs: maps.Clone(pcrs)}, nil
}

// RootPEM returns the root certificate documents of this attester verify against.
func (f *FakeAttester) RootPEM() []byte {
	return f.issuer.RootPEM()
}

// Attest implements the Attester interface.
func (f *FakeAttester) Attest(userData, nonce []byte) ([]byte, error) {
	if len(userData) > attestation.MaxUserDataLen || len(nonce) > attestation.MaxNonceLen {
		return nil, errors.New("NSM Error: InputTooLarge")
	}
	return f.issuer.Issue(attestation.Document{
		ModuleID: fakeModuleID,
		PCRs:     f.pcrs,
		UserData: bytes.Clone(userData),
		Nonce:    bytes.Clone(nonce),
	})
}
