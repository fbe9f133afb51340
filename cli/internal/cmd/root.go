/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package cmd implements the nsmbridge CLI commands.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

const globalUsage = `The nsmbridge CLI requests attestation documents from an nsmbridge
running inside an AWS Nitro Enclave and verifies them.

To request and verify a document from the enclave with CID 16, run:

    $ nsmbridge-cli attest --cid 16
`

// Execute starts the CLI.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// NewRootCmd returns the root command of the CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:              "nsmbridge-cli",
		Short:            "Request and verify AWS Nitro Enclaves attestation documents",
		Long:             globalUsage,
		PersistentPreRun: preRunRoot,
	}

	rootCmd.PersistentFlags().Uint32("cid", 16, "Context ID of the enclave")
	rootCmd.PersistentFlags().Uint32("port", 5000, "vsock port the bridge listens on")
	rootCmd.PersistentFlags().String("address", "", "TCP address of the bridge, used instead of vsock if set")
	rootCmd.PersistentFlags().String("framing", "raw", "Message framing used by the bridge: raw, line or length")
	rootCmd.PersistentFlags().Duration("timeout", defaultTimeout, "Timeout for a single request")

	rootCmd.AddCommand(newRequestCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newAttestCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func preRunRoot(cmd *cobra.Command, _ []string) {
	cmd.SilenceUsage = true
}
