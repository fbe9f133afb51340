/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package framing splits a byte stream into messages.
//
// [Raw] is the default: every read from the stream is treated as exactly one
// complete message, and responses are written without any delimiter. It breaks
// as soon as the transport splits or coalesces messages.
// [Line] and [Length] delimit messages explicitly and should be preferred when
// both sides can be configured.
package framing

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Mode selects a framing.
type Mode string

const (
	// Raw treats one read as one message.
	Raw Mode = "raw"
	// Line terminates every message with '\n'.
	Line Mode = "line"
	// Length prefixes every message with its size as 4 byte big endian integer.
	Length Mode = "length"
)

// ErrMessageTooLarge is returned when a message exceeds the configured maximum size.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// ParseMode parses the name of a framing mode.
func ParseMode(s string) (Mode, error) {
	switch mode := Mode(s); mode {
	case Raw, Line, Length:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown framing mode %q, expected one of %q, %q, %q", s, Raw, Line, Length)
	}
}

// Conn reads and writes whole messages.
type Conn interface {
	// ReadMessage returns the next message.
	// It returns [io.EOF] once the peer closed the stream.
	ReadMessage() ([]byte, error)
	// WriteMessage writes msg as one message.
	WriteMessage(msg []byte) error
}

// New returns a [Conn] using the given framing on rw.
// Messages larger than maxSize are rejected. For [Raw], maxSize is the read buffer size.
func New(mode Mode, rw io.ReadWriter, maxSize int) (Conn, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("invalid maximum message size %d", maxSize)
	}
	switch mode {
	case Raw:
		return &rawConn{rw: rw, buf: make([]byte, maxSize)}, nil
	case Line:
		scanner := bufio.NewScanner(rw)
		// the scanner needs room for the line terminator in addition to the message
		scanner.Buffer(make([]byte, 0, min(maxSize+2, 4096)), maxSize+2)
		return &lineConn{scanner: scanner, w: rw, maxSize: maxSize}, nil
	case Length:
		return &lengthConn{r: bufio.NewReader(rw), w: rw, maxSize: maxSize}, nil
	default:
		return nil, fmt.Errorf("unknown framing mode %q", mode)
	}
}

type rawConn struct {
	rw  io.ReadWriter
	buf []byte
}

func (c *rawConn) ReadMessage() ([]byte, error) {
	n, err := c.rw.Read(c.buf)
	if n > 0 {
		msg := make([]byte, n)
		copy(msg, c.buf[:n])
		return msg, nil
	}
	// a read of zero bytes means the peer is gone
	if err == nil || errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	return nil, err
}

func (c *rawConn) WriteMessage(msg []byte) error {
	_, err := c.rw.Write(msg)
	return err
}

type lineConn struct {
	scanner *bufio.Scanner
	w       io.Writer
	maxSize int
}

func (c *lineConn) ReadMessage() ([]byte, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if len(line) > c.maxSize {
			return nil, ErrMessageTooLarge
		}
		msg := make([]byte, len(line))
		copy(msg, line)
		return msg, nil
	}
	err := c.scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return nil, ErrMessageTooLarge
	}
	if err == nil {
		return nil, io.EOF
	}
	return nil, err
}

func (c *lineConn) WriteMessage(msg []byte) error {
	framed := make([]byte, 0, len(msg)+1)
	framed = append(framed, msg...)
	framed = append(framed, '\n')
	_, err := c.w.Write(framed)
	return err
}

type lengthConn struct {
	r       *bufio.Reader
	w       io.Writer
	maxSize int
}

func (c *lengthConn) ReadMessage() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(c.maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, size, c.maxSize)
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(c.r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}

func (c *lengthConn) WriteMessage(msg []byte) error {
	framed := make([]byte, 4, 4+len(msg))
	binary.BigEndian.PutUint32(framed, uint32(len(msg)))
	framed = append(framed, msg...)
	_, err := c.w.Write(framed)
	return err
}
