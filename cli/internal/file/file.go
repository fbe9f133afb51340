/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package file provides file access for CLI commands on top of afero.
package file

import (
	"errors"
	"io/fs"

	"github.com/spf13/afero"
)

// Handler is a wrapper around afero.Afero,
// providing a simple interface for reading and writing a single file.
type Handler struct {
	fs       afero.Afero
	filename string
}

// New returns a new Handler for the given filename.
//
// Returns nil if filename is empty.
func New(filename string, fs afero.Fs) *Handler {
	if filename == "" {
		return nil
	}

	return &Handler{
		fs:       afero.Afero{Fs: fs},
		filename: filename,
	}
}

// Read reads the file.
func (f *Handler) Read() ([]byte, error) {
	return f.fs.ReadFile(f.filename)
}

// Exists reports whether the file exists.
func (f *Handler) Exists() (bool, error) {
	_, err := f.fs.Stat(f.filename)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Write writes the given data to the file.
func (f *Handler) Write(data []byte) error {
	return f.fs.WriteFile(f.filename, data, 0o644)
}

// Name returns the filename.
func (f *Handler) Name() string {
	return f.filename
}
