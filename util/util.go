/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package util

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Getenv returns the environment variable `name` if it exists or the handed fallback value elsewise.
func Getenv(name string, fallback string) string {
	value := os.Getenv(name)
	if len(value) == 0 {
		return fallback
	}
	return value
}

// GetenvUint32 parses the environment variable `name` as an unsigned 32 bit integer, using `fallback` if it is unset.
func GetenvUint32(name string, fallback string) (uint32, error) {
	value := Getenv(name, fallback)
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", name, value, err)
	}
	return uint32(parsed), nil
}

// GetenvInt parses the environment variable `name` as a positive integer, using `fallback` if it is unset.
func GetenvInt(name string, fallback string) (int, error) {
	value := Getenv(name, fallback)
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", name, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parsing %s=%q: value must be positive", name, value)
	}
	return parsed, nil
}

// GetenvDuration parses the environment variable `name` as a [time.Duration], using `fallback` if it is unset.
func GetenvDuration(name string, fallback string) (time.Duration, error) {
	value := Getenv(name, fallback)
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", name, value, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("parsing %s=%q: duration must not be negative", name, value)
	}
	return parsed, nil
}

// MustGetLocalListenerAndAddr returns a TCP listener on a system-chosen port on localhost and its address.
func MustGetLocalListenerAndAddr() (net.Listener, string) {
	const localhost = "localhost:"

	listener, err := net.Listen("tcp", localhost)
	if err != nil {
		panic(err)
	}

	addr := listener.Addr().String()

	// addr contains IP address, we want hostname
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		panic(err)
	}
	return listener, localhost + port
}
