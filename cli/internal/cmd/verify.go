/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgelesssys/nsmbridge/api/attestation"
	"github.com/edgelesssys/nsmbridge/cli/internal/file"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const verifyDesc = `Verify an attestation document saved by [nsmbridge-cli request].

The following checks are performed:
  - the COSE_Sign1 signature of the document
  - the certificate chain up to the root certificate given by --root-cert
  - PCR values against the measurements file written by [nitro-cli build-enclave]
  - user data and nonce, if given
`

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <document-file>",
		Short: "Verify an attestation document",
		Long:  verifyDesc,
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}

	addVerifyFlags(cmd.Flags())
	cmd.Flags().String("user-data", "", "Expected user data")
	cmd.Flags().String("nonce", "", "Expected base64 encoded nonce")

	return cmd
}

func addVerifyFlags(flags *pflag.FlagSet) {
	flags.String("root-cert", "root.pem", "PEM encoded root certificate of the attestation PKI")
	flags.String("measurements", "expected-measurements.json", "File containing the expected PCR values in nitro-cli format")
}

type verifyFlags struct {
	rootCert        string
	measurements    string
	measurementsSet bool
}

func parseVerifyFlags(flags *pflag.FlagSet) (verifyFlags, error) {
	rootCert, err := flags.GetString("root-cert")
	if err != nil {
		return verifyFlags{}, err
	}
	measurements, err := flags.GetString("measurements")
	if err != nil {
		return verifyFlags{}, err
	}
	return verifyFlags{
		rootCert:        rootCert,
		measurements:    measurements,
		measurementsSet: flags.Changed("measurements"),
	}, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	flags, err := parseVerifyFlags(cmd.Flags())
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()

	cfg, err := loadVerifyConfig(cmd, fs, flags)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("user-data") {
		userData, err := cmd.Flags().GetString("user-data")
		if err != nil {
			return err
		}
		cfg.UserData = []byte(userData)
	}
	if cmd.Flags().Changed("nonce") {
		nonceFlag, err := cmd.Flags().GetString("nonce")
		if err != nil {
			return err
		}
		if cfg.Nonce, err = base64.StdEncoding.DecodeString(nonceFlag); err != nil {
			return fmt.Errorf("decoding nonce: %w", err)
		}
	}

	doc, err := readDocument(fs, args[0])
	if err != nil {
		return err
	}
	return cliVerify(cmd, doc, cfg)
}

// readDocument reads the attestation document stored at filename.
func readDocument(fs afero.Fs, filename string) ([]byte, error) {
	docHandler := file.New(filename, fs)
	if docHandler == nil {
		return nil, errors.New("no attestation document given")
	}
	raw, err := docHandler.Read()
	if err != nil {
		return nil, fmt.Errorf("reading attestation document: %w", err)
	}
	return decodeDocument(raw), nil
}

// decodeDocument accepts base64 encoded as well as binary documents.
func decodeDocument(raw []byte) []byte {
	if doc, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw))); err == nil {
		return doc
	}
	return raw
}

// loadVerifyConfig loads the root certificate and expected measurements.
// A missing measurements file is only an error if it was explicitly set.
func loadVerifyConfig(cmd *cobra.Command, fs afero.Fs, flags verifyFlags) (attestation.Config, error) {
	rootHandler := file.New(flags.rootCert, fs)
	if rootHandler == nil {
		return attestation.Config{}, errors.New("no root certificate given")
	}
	rootPEM, err := rootHandler.Read()
	if err != nil {
		return attestation.Config{}, fmt.Errorf("reading root certificate: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(rootPEM) {
		return attestation.Config{}, fmt.Errorf("no certificate found in %s", flags.rootCert)
	}
	cfg := attestation.Config{Roots: roots}

	measurements := file.New(flags.measurements, fs)
	if measurements == nil {
		return cfg, nil
	}
	exists, err := measurements.Exists()
	if err != nil {
		return attestation.Config{}, err
	}
	if !exists {
		if flags.measurementsSet {
			return attestation.Config{}, fmt.Errorf("measurements file %s not found", flags.measurements)
		}
		cmd.PrintErrf("Warning: %s not found, skipping PCR verification\n", flags.measurements)
		return cfg, nil
	}
	data, err := measurements.Read()
	if err != nil {
		return attestation.Config{}, fmt.Errorf("reading measurements: %w", err)
	}
	if cfg.PCRs, err = attestation.LoadMeasurements(data); err != nil {
		return attestation.Config{}, err
	}
	return cfg, nil
}

// cliVerify verifies doc and prints the result of each check.
func cliVerify(cmd *cobra.Command, doc []byte, cfg attestation.Config) error {
	result, err := attestation.Verify(doc, cfg)
	if err != nil {
		return fmt.Errorf("verifying attestation document: %w", err)
	}

	cmd.Printf("Module ID: %s\n", result.Document.ModuleID)
	cmd.Printf("Timestamp: %s\n", result.Document.Time().UTC().Format(time.RFC3339))
	cmd.Println("Signature: OK")
	cmd.Printf("Certificate chain: OK (root: %s)\n", result.Chain[len(result.Chain)-1].Subject.CommonName)

	indices := make([]uint, 0, len(cfg.PCRs))
	for idx := range cfg.PCRs {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	for _, idx := range indices {
		cmd.Printf("PCR%d: OK\n", idx)
	}
	if cfg.UserData != nil {
		cmd.Println("User data: OK")
	}
	if cfg.Nonce != nil {
		cmd.Println("Nonce: OK")
	}
	cmd.Println("Attestation document verified successfully")
	return nil
}
