/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package attestation verifies Nitro Enclaves attestation documents.
package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"sigs.k8s.io/yaml"
)

// PCRMismatchError is returned when a PCR of the document does not match the expected value.
type PCRMismatchError struct {
	Index    uint
	Expected []byte
	Actual   []byte
}

// Error returns the error message.
func (e *PCRMismatchError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("PCR%d not found in attestation document", e.Index)
	}
	return fmt.Sprintf("PCR%d mismatch: expected %x, got %x", e.Index, e.Expected, e.Actual)
}

// Config is the expected content of an attestation document.
type Config struct {
	// Roots are the trusted root certificates, usually just the AWS Nitro Enclaves root.
	Roots *x509.CertPool
	// CurrentTime is the time certificates are checked at.
	// If zero, the time the document was created at is used.
	CurrentTime time.Time
	// PCRs maps PCR indices to their expected values. PCRs not listed are not checked.
	PCRs map[uint][]byte
	// UserData is the expected user data. Not checked if nil.
	UserData []byte
	// Nonce is the expected nonce. Not checked if nil.
	Nonce []byte
}

// Result is a verified attestation document.
type Result struct {
	Document Document
	// Chain is the verified certificate chain, starting with the document's signing certificate.
	Chain []*x509.Certificate
}

// Verify checks the signature and certificate chain of a COSE_Sign1 encoded attestation document
// and compares its content to the given config.
func Verify(raw []byte, cfg Config) (*Result, error) {
	if cfg.Roots == nil {
		return nil, errors.New("no root certificates configured")
	}

	msg, err := parseCOSESign1(raw)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := cbor.Unmarshal(msg.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("parsing signing certificate: %w", err)
	}
	if err := verifySignature(msg, leaf); err != nil {
		return nil, err
	}

	chain, err := verifyChain(leaf, doc, cfg)
	if err != nil {
		return nil, fmt.Errorf("verifying certificate chain: %w", err)
	}

	if err := verifyPCRs(doc.PCRs, cfg.PCRs); err != nil {
		return nil, err
	}
	if cfg.UserData != nil && !bytes.Equal(cfg.UserData, doc.UserData) {
		return nil, fmt.Errorf("user data mismatch: expected %x, got %x", cfg.UserData, doc.UserData)
	}
	if cfg.Nonce != nil && !bytes.Equal(cfg.Nonce, doc.Nonce) {
		return nil, fmt.Errorf("nonce mismatch: expected %x, got %x", cfg.Nonce, doc.Nonce)
	}

	return &Result{Document: doc, Chain: chain}, nil
}

func verifySignature(msg coseSign1, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P384() {
		return errors.New("signing certificate does not contain a P-384 ECDSA key")
	}
	if len(msg.Signature) != 2*es384CoordinateLen {
		return fmt.Errorf("invalid signature length %d", len(msg.Signature))
	}
	digest, err := msg.digest()
	if err != nil {
		return err
	}
	r := new(big.Int).SetBytes(msg.Signature[:es384CoordinateLen])
	s := new(big.Int).SetBytes(msg.Signature[es384CoordinateLen:])
	if !ecdsa.Verify(pub, digest, r, s) {
		return errors.New("invalid COSE signature")
	}
	return nil
}

func verifyChain(leaf *x509.Certificate, doc Document, cfg Config) ([]*x509.Certificate, error) {
	intermediates := x509.NewCertPool()
	for i, der := range doc.CABundle {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parsing cabundle certificate %d: %w", i, err)
		}
		intermediates.AddCert(cert)
	}

	currentTime := cfg.CurrentTime
	if currentTime.IsZero() {
		currentTime = doc.Time()
	}
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         cfg.Roots,
		Intermediates: intermediates,
		CurrentTime:   currentTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, err
	}
	return chains[0], nil
}

func verifyPCRs(actual, expected map[uint][]byte) error {
	indices := make([]uint, 0, len(expected))
	for idx := range expected {
		indices = append(indices, idx)
	}
	slices.Sort(indices)

	for _, idx := range indices {
		value, ok := actual[idx]
		if !ok || !bytes.Equal(value, expected[idx]) {
			return &PCRMismatchError{Index: idx, Expected: expected[idx], Actual: value}
		}
	}
	return nil
}

// LoadMeasurements parses the measurements written by `nitro-cli build-enclave`.
// The input may be JSON or YAML:
//
//	{"Measurements": {"HashAlgorithm": "Sha384 { ... }", "PCR0": "<hex>", "PCR1": "<hex>", "PCR2": "<hex>"}}
func LoadMeasurements(data []byte) (map[uint][]byte, error) {
	var file struct {
		Measurements map[string]string `json:"Measurements"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing measurements: %w", err)
	}

	pcrs := make(map[uint][]byte)
	for key, value := range file.Measurements {
		idx, ok := strings.CutPrefix(key, "PCR")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(idx, 10, 8)
		if err != nil || n > 31 {
			return nil, fmt.Errorf("invalid PCR name %q", key)
		}
		pcr, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		pcrs[uint(n)] = pcr
	}
	if len(pcrs) == 0 {
		return nil, errors.New("no PCR values found in measurements")
	}
	return pcrs, nil
}
