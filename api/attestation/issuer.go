/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// Issuer signs attestation documents using a self-generated certificate chain.
// It stands in for the NSM outside of Nitro Enclaves. Its documents only verify
// against [Issuer.Root], never against the AWS root.
type Issuer struct {
	root    *x509.Certificate
	leaf    *x509.Certificate
	leafKey *ecdsa.PrivateKey
}

// NewIssuer generates a root CA and a signing certificate valid for the given duration.
func NewIssuer(validity time.Duration) (*Issuer, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}

	notBefore := time.Now().Add(-time.Hour)
	notAfter := time.Now().Add(validity)

	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "nsmbridge fake root"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("creating root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "nsmbridge fake enclave"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, root, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("creating signing certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, err
	}

	return &Issuer{root: root, leaf: leaf, leafKey: leafKey}, nil
}

// Root returns the root certificate of the issuer.
func (i *Issuer) Root() *x509.Certificate {
	return i.root
}

// RootPEM returns the PEM encoded root certificate of the issuer.
func (i *Issuer) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: i.root.Raw})
}

// Issue fills in the certificate fields of doc and signs it.
// Digest and timestamp are set if empty.
func (i *Issuer) Issue(doc Document) ([]byte, error) {
	if doc.Digest == "" {
		doc.Digest = DigestSHA384
	}
	if doc.Timestamp == 0 {
		doc.Timestamp = uint64(time.Now().UnixMilli())
	}
	doc.Certificate = i.leaf.Raw
	doc.CABundle = [][]byte{i.root.Raw}
	return Sign(doc, i.leafKey)
}
