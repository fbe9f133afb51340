/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package nsm

import (
	"bytes"
	"sync"
)

// Call is a recorded call to MockAttester.
type Call struct {
	UserData []byte
	Nonce    []byte
}

// MockAttester returns a fixed document or error and records all calls.
type MockAttester struct {
	mutex    sync.Mutex
	document []byte
	err      error
	calls    []Call
}

// NewMockAttester returns a new MockAttester returning document.
func NewMockAttester(document []byte) *MockAttester {
	return &MockAttester{document: document}
}

// NewErrorMockAttester returns a new MockAttester returning err.
func NewErrorMockAttester(err error) *MockAttester {
	return &MockAttester{err: err}
}

// Attest implements the Attester interface.
func (m *MockAttester) Attest(userData, nonce []byte) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls = append(m.calls, Call{
		UserData: bytes.Clone(userData),
		Nonce:    bytes.Clone(nonce),
	})
	if m.err != nil {
		return nil, m.err
	}
	return m.document, nil
}

// Calls returns the calls made so far.
func (m *MockAttester) Calls() []Call {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Call(nil), m.calls...)
}
