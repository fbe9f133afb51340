/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package constants defines the environment variables and default values used by the bridge.
package constants

const (
	// Port is the vsock port the bridge listens on.
	Port = "NSMBRIDGE_PORT"
	// PortDefault is the default vsock port.
	PortDefault = "5000"

	// ListenAddr is the TCP address the bridge listens on when built without enclave support.
	ListenAddr = "NSMBRIDGE_LISTEN_ADDR"
	// ListenAddrDefault is the default TCP address for builds without enclave support.
	ListenAddrDefault = "localhost:5000"

	// Framing selects how messages are delimited on the stream: "raw", "line" or "length".
	Framing = "NSMBRIDGE_FRAMING"
	// FramingDefault treats every read as exactly one message.
	FramingDefault = "raw"

	// BufferSize is the maximum size of a single inbound message in bytes.
	BufferSize = "NSMBRIDGE_BUFFER_SIZE"
	// BufferSizeDefault is the default maximum message size.
	BufferSizeDefault = "8192"

	// ReadTimeout is the maximum time to wait for the next message on a connection.
	// Accepts Go duration strings. Zero disables the timeout.
	ReadTimeout = "NSMBRIDGE_READ_TIMEOUT"
	// WriteTimeout is the maximum time a response write may take. Zero disables the timeout.
	WriteTimeout = "NSMBRIDGE_WRITE_TIMEOUT"
	// TimeoutDefault disables timeouts.
	TimeoutDefault = "0s"

	// PromAddr is the address for the prometheus endpoint server to listen on.
	PromAddr = "NSMBRIDGE_PROMETHEUS_ADDR"

	// DevMode enables more verbose logging.
	DevMode = "NSMBRIDGE_DEV_MODE"
	// DevModeDefault is the default logging mode.
	DevModeDefault = "0"

	// LogLevel overrides the minimum level of the logger, e.g. "debug" or "warn".
	// If unset, the level of the selected logging mode is used.
	LogLevel = "NSMBRIDGE_LOG_LEVEL"

	// FakeRootCert is a file the development build writes the PEM encoded root certificate
	// of its fake attester to, so clients can verify the documents it issues.
	FakeRootCert = "NSMBRIDGE_FAKE_ROOT_CERT"
)
