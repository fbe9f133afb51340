/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"context"
	"fmt"

	"github.com/edgelesssys/nsmbridge/api/attestation"
	"github.com/edgelesssys/nsmbridge/cli/internal/file"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newAttestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Request an attestation document and verify it",
		Long: `Request an attestation document from the bridge and verify it.
The document must contain the sent user data and nonce.`,
		Args: cobra.NoArgs,
		RunE: runAttest,
	}

	cmd.Flags().String("user-data", "", "User data to embed in the document")
	cmd.Flags().String("nonce", "", "Base64 encoded nonce to embed in the document (default 64 random bytes)")
	cmd.Flags().StringP("output", "o", "", "File to save the base64 encoded document to")
	addVerifyFlags(cmd.Flags())

	return cmd
}

func runAttest(cmd *cobra.Command, _ []string) error {
	conFlags, err := parseConnectionFlags(cmd.Flags())
	if err != nil {
		return err
	}
	reqFlags, err := parseRequestFlags(cmd.Flags())
	if err != nil {
		return err
	}
	verFlags, err := parseVerifyFlags(cmd.Flags())
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()
	cfg, err := loadVerifyConfig(cmd, fs, verFlags)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), conFlags.timeout)
	defer cancel()
	client, err := newClient(ctx, conFlags)
	if err != nil {
		return err
	}
	defer client.Close()

	return cliAttest(ctx, cmd, client, reqFlags.userData, reqFlags.nonce, cfg, file.New(reqFlags.output, fs))
}

// cliAttest requests a document and verifies that it contains userData and nonce.
// If out is not nil, the document is saved before verification.
func cliAttest(ctx context.Context, cmd *cobra.Command, client attester, userData, nonce []byte, cfg attestation.Config, out *file.Handler) error {
	doc, err := client.Attest(ctx, userData, nonce)
	if err != nil {
		return fmt.Errorf("requesting attestation document: %w", err)
	}
	if out != nil {
		if err := saveDocument(cmd, doc, out); err != nil {
			return err
		}
	}

	cfg.UserData = userData
	cfg.Nonce = nonce
	return cliVerify(cmd, doc, cfg)
}
