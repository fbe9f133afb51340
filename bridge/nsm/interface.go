/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package nsm obtains attestation documents from the Nitro Secure Module.
package nsm

// Attester requests attestation documents binding user data and a nonce.
type Attester interface {
	Attest(userData, nonce []byte) ([]byte, error)
}
