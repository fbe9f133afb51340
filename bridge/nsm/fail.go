/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package nsm

import "errors"

// FailAttester always fails.
type FailAttester struct{}

// NewFailAttester returns a new FailAttester object.
func NewFailAttester() *FailAttester {
	return &FailAttester{}
}

// Attest implements the Attester interface for FailAttester.
func (m *FailAttester) Attest(userData, nonce []byte) ([]byte, error) {
	return nil, errors.New("opening NSM session: no such file or directory")
}
