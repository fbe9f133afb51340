/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	// DigestSHA384 is the only digest Nitro attestation documents use.
	DigestSHA384 = "SHA384"

	// MaxUserDataLen is the maximum size of the user data the NSM accepts.
	MaxUserDataLen = 1024
	// MaxNonceLen is the maximum size of the nonce the NSM accepts.
	MaxNonceLen = 1024

	coseTagSign1       = 0xd2 // CBOR tag 18
	coseHeaderAlg      = 1
	coseAlgES384       = -35
	coseSigContext     = "Signature1"
	es384CoordinateLen = 48
)

// Document is the payload of a Nitro Enclaves attestation document.
// The field layout is defined in the AWS Nitro Enclaves user guide.
type Document struct {
	ModuleID    string          `cbor:"module_id" json:"module_id"`
	Timestamp   uint64          `cbor:"timestamp" json:"timestamp"`
	Digest      string          `cbor:"digest" json:"digest"`
	PCRs        map[uint][]byte `cbor:"pcrs" json:"pcrs"`
	Certificate []byte          `cbor:"certificate" json:"certificate"`
	CABundle    [][]byte        `cbor:"cabundle" json:"cabundle"`
	PublicKey   []byte          `cbor:"public_key" json:"public_key,omitempty"`
	UserData    []byte          `cbor:"user_data" json:"user_data,omitempty"`
	Nonce       []byte          `cbor:"nonce" json:"nonce,omitempty"`
}

// Time returns the time the document was created at.
func (d Document) Time() time.Time {
	return time.UnixMilli(int64(d.Timestamp))
}

func (d Document) validate() error {
	if d.ModuleID == "" {
		return errors.New("missing module_id")
	}
	if d.Digest != DigestSHA384 {
		return fmt.Errorf("unsupported digest %q", d.Digest)
	}
	if d.Timestamp == 0 {
		return errors.New("missing timestamp")
	}
	if len(d.PCRs) == 0 || len(d.PCRs) > 32 {
		return fmt.Errorf("invalid number of PCRs: %d", len(d.PCRs))
	}
	for idx, value := range d.PCRs {
		if l := len(value); l != 32 && l != 48 && l != 64 {
			return fmt.Errorf("PCR%d has invalid length %d", idx, l)
		}
	}
	if len(d.Certificate) == 0 {
		return errors.New("missing certificate")
	}
	if len(d.CABundle) == 0 {
		return errors.New("missing cabundle")
	}
	return nil
}

// coseSign1 is an untagged COSE_Sign1 message (RFC 8152, section 4.2).
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// sigStructure is the data signed for a COSE_Sign1 message (RFC 8152, section 4.4).
type sigStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

func (m coseSign1) digest() ([]byte, error) {
	toBeSigned, err := cbor.Marshal(sigStructure{
		Context:     coseSigContext,
		Protected:   m.Protected,
		ExternalAAD: []byte{},
		Payload:     m.Payload,
	})
	if err != nil {
		return nil, err
	}
	digest := sha512.Sum384(toBeSigned)
	return digest[:], nil
}

func parseCOSESign1(raw []byte) (coseSign1, error) {
	if len(raw) > 0 && raw[0] == coseTagSign1 {
		raw = raw[1:]
	}
	var msg coseSign1
	if err := cbor.Unmarshal(raw, &msg); err != nil {
		return coseSign1{}, fmt.Errorf("decoding COSE_Sign1: %w", err)
	}

	var header map[int]any
	if err := cbor.Unmarshal(msg.Protected, &header); err != nil {
		return coseSign1{}, fmt.Errorf("decoding protected header: %w", err)
	}
	if alg, ok := header[coseHeaderAlg].(int64); !ok || alg != coseAlgES384 {
		return coseSign1{}, fmt.Errorf("unsupported signature algorithm %v", header[coseHeaderAlg])
	}
	return msg, nil
}

// ParseDocument decodes the payload of a COSE_Sign1 encoded attestation document
// without verifying it.
func ParseDocument(raw []byte) (Document, error) {
	msg, err := parseCOSESign1(raw)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := cbor.Unmarshal(msg.Payload, &doc); err != nil {
		return Document{}, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// Sign encodes doc as COSE_Sign1 message signed by key using ES384.
func Sign(doc Document, key *ecdsa.PrivateKey) ([]byte, error) {
	if key.Curve != elliptic.P384() {
		return nil, errors.New("signing key must use curve P-384")
	}
	payload, err := cbor.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	protected, err := cbor.Marshal(map[int]int{coseHeaderAlg: coseAlgES384})
	if err != nil {
		return nil, err
	}

	msg := coseSign1{
		Protected:   protected,
		Unprotected: cbor.RawMessage{0xa0}, // empty map
		Payload:     payload,
	}
	digest, err := msg.digest()
	if err != nil {
		return nil, err
	}
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, err
	}
	msg.Signature = make([]byte, 2*es384CoordinateLen)
	r.FillBytes(msg.Signature[:es384CoordinateLen])
	s.FillBytes(msg.Signature[es384CoordinateLen:])

	return cbor.Marshal(msg)
}
