/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/edgelesssys/nsmbridge/bridge/framing"
	"github.com/edgelesssys/nsmbridge/client"
	"github.com/spf13/pflag"
)

const (
	defaultTimeout = 10 * time.Second
	// nonceSize is the size of generated nonces.
	nonceSize = 64
)

// attester requests attestation documents from the bridge.
type attester interface {
	Attest(ctx context.Context, userData, nonce []byte) ([]byte, error)
}

type connectionFlags struct {
	cid     uint32
	port    uint32
	address string
	framing framing.Mode
	timeout time.Duration
}

func parseConnectionFlags(flags *pflag.FlagSet) (connectionFlags, error) {
	cid, err := flags.GetUint32("cid")
	if err != nil {
		return connectionFlags{}, err
	}
	port, err := flags.GetUint32("port")
	if err != nil {
		return connectionFlags{}, err
	}
	address, err := flags.GetString("address")
	if err != nil {
		return connectionFlags{}, err
	}
	framingFlag, err := flags.GetString("framing")
	if err != nil {
		return connectionFlags{}, err
	}
	mode, err := framing.ParseMode(framingFlag)
	if err != nil {
		return connectionFlags{}, err
	}
	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return connectionFlags{}, err
	}
	if timeout <= 0 {
		return connectionFlags{}, fmt.Errorf("invalid timeout %s", timeout)
	}

	return connectionFlags{
		cid:     cid,
		port:    port,
		address: address,
		framing: mode,
		timeout: timeout,
	}, nil
}

// newClient connects to the bridge.
func newClient(ctx context.Context, flags connectionFlags) (*client.Client, error) {
	var conn net.Conn
	var err error
	if flags.address != "" {
		conn, err = client.DialTCP(ctx, flags.address)
	} else {
		conn, err = client.DialVsock(flags.cid, flags.port)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to bridge: %w", err)
	}
	c, err := client.New(conn, flags.framing, client.DefaultBufferSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// parseNonce decodes a base64 nonce. If encoded is empty, a random nonce is generated.
func parseNonce(encoded string) ([]byte, error) {
	if encoded == "" {
		nonce := make([]byte, nonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}
		return nonce, nil
	}
	nonce, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	return nonce, nil
}
