/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/edgelesssys/nsmbridge/cli/internal/file"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request an attestation document from the bridge",
		Long: `Request an attestation document from the bridge.
The document is printed base64 encoded or saved to the file given by --output.`,
		Args: cobra.NoArgs,
		RunE: runRequest,
	}

	cmd.Flags().String("user-data", "", "User data to embed in the document")
	cmd.Flags().String("nonce", "", "Base64 encoded nonce to embed in the document (default 64 random bytes)")
	cmd.Flags().StringP("output", "o", "", "File to save the base64 encoded document to")

	return cmd
}

type requestFlags struct {
	userData []byte
	nonce    []byte
	output   string
}

func parseRequestFlags(flags *pflag.FlagSet) (requestFlags, error) {
	userData, err := flags.GetString("user-data")
	if err != nil {
		return requestFlags{}, err
	}
	nonceFlag, err := flags.GetString("nonce")
	if err != nil {
		return requestFlags{}, err
	}
	nonce, err := parseNonce(nonceFlag)
	if err != nil {
		return requestFlags{}, err
	}
	output, err := flags.GetString("output")
	if err != nil {
		return requestFlags{}, err
	}

	return requestFlags{
		userData: []byte(userData),
		nonce:    nonce,
		output:   output,
	}, nil
}

func runRequest(cmd *cobra.Command, _ []string) error {
	conFlags, err := parseConnectionFlags(cmd.Flags())
	if err != nil {
		return err
	}
	flags, err := parseRequestFlags(cmd.Flags())
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

	return cliRequest(ctx, cmd, client, flags.userData, flags.nonce, file.New(flags.output, afero.NewOsFs()))
}

// cliRequest requests a document and prints it or writes it to out.
func cliRequest(ctx context.Context, cmd *cobra.Command, client attester, userData, nonce []byte, out *file.Handler) error {
	doc, err := client.Attest(ctx, userData, nonce)
	if err != nil {
		return fmt.Errorf("requesting attestation document: %w", err)
	}
	return saveDocument(cmd, doc, out)
}

func saveDocument(cmd *cobra.Command, doc []byte, out *file.Handler) error {
	encoded := base64.StdEncoding.EncodeToString(doc)
	if out == nil {
		fmt.Fprintln(cmd.OutOrStdout(), encoded)
		return nil
	}
	if err := out.Write([]byte(encoded)); err != nil {
		return fmt.Errorf("writing attestation document: %w", err)
	}
	cmd.Printf("Attestation document saved to %s\n", out.Name())
	return nil
}
