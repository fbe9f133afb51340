/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package client requests attestation documents from an nsmbridge running in an enclave.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/edgelesssys/nsmbridge/bridge/framing"
	"github.com/edgelesssys/nsmbridge/bridge/protocol"
	"github.com/mdlayher/vsock"
	"github.com/tidwall/gjson"
)

// DefaultBufferSize is large enough for attestation documents including a full certificate chain.
const DefaultBufferSize = 64 * 1024

// ServerError is an error reported by the bridge.
type ServerError struct {
	Category string
	Message  string
	Status   string
}

// Error returns the error message.
func (e *ServerError) Error() string {
	msg := e.Category
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != "" {
		msg += " (" + e.Status + ")"
	}
	return msg
}

// Client sends attestation requests over a single connection.
// It must not be used concurrently.
type Client struct {
	conn    net.Conn
	fc      framing.Conn
	mode    framing.Mode
	maxSize int
}

// New creates a Client using conn. bufSize limits the size of a response.
func New(conn net.Conn, mode framing.Mode, bufSize int) (*Client, error) {
	fc, err := framing.New(mode, conn, bufSize)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, fc: fc, mode: mode, maxSize: bufSize}, nil
}

// DialVsock connects to port of the enclave with context ID cid.
func DialVsock(cid, port uint32) (net.Conn, error) {
	return vsock.Dial(cid, port, nil)
}

// DialTCP connects to a bridge listening on a TCP address.
func DialTCP(ctx context.Context, address string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", address)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Attest requests an attestation document containing userData and nonce.
// If the bridge answers with an error, a [*ServerError] is returned.
func (c *Client) Attest(ctx context.Context, userData, nonce []byte) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	req, err := protocol.Marshal(protocol.NewRequest(userData, nonce))
	if err != nil {
		return nil, err
	}
	if err := c.fc.WriteMessage(req); err != nil {
		return nil, c.ioError(ctx, "sending request", err)
	}

	resp, err := c.readResponse()
	if err != nil {
		return nil, c.ioError(ctx, "reading response", err)
	}
	return parseResponse(resp)
}

func (c *Client) ioError(ctx context.Context, op string, err error) error {
	// the connection deadline may expire before the context notices
	if deadline, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, context.Cause(ctx))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// readResponse reads a single response. Without framing, reads are accumulated
// until they form a complete JSON value.
func (c *Client) readResponse() ([]byte, error) {
	if c.mode != framing.Raw {
		return c.fc.ReadMessage()
	}
	var resp []byte
	for {
		chunk, err := c.fc.ReadMessage()
		if err != nil {
			return nil, err
		}
		resp = append(resp, chunk...)
		if gjson.ValidBytes(resp) {
			return resp, nil
		}
		if len(resp) >= c.maxSize {
			return nil, framing.ErrMessageTooLarge
		}
	}
}

func parseResponse(resp []byte) ([]byte, error) {
	if !gjson.ValidBytes(resp) {
		return nil, fmt.Errorf("invalid response %q", resp)
	}
	if category := gjson.GetBytes(resp, "error"); category.Exists() {
		return nil, &ServerError{
			Category: category.String(),
			Message:  gjson.GetBytes(resp, "message").String(),
			Status:   gjson.GetBytes(resp, "status").String(),
		}
	}
	document := gjson.GetBytes(resp, "document")
	if document.Type != gjson.String {
		return nil, errors.New("response does not contain a document")
	}
	doc, err := protocol.Response{Document: document.String()}.DecodeDocument()
	if err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}
