/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package protocol defines the JSON messages exchanged between the parent instance and the bridge.
//
// A request carries base64 encoded user data and a nonce:
//
//	{"user-data": "<base64>", "nonce": "<base64>"}
//
// It is answered by either a document or an error:
//
//	{"document": "<base64>"}
//	{"error": "<category>", "message": "<detail>", "status": "<tag>"}
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Error categories reported in the "error" field of an [ErrorResponse].
const (
	CategoryInvalidJSON     = "Invalid JSON request"
	CategoryInvalidUserData = "Invalid report-data encoding"
	CategoryInvalidNonce    = "Invalid nonce encoding"
	CategoryNSMUnavailable  = "NSM device not available"
)

// StatusNSMUnavailable tags errors caused by the NSM device rather than by the request.
const StatusNSMUnavailable = "NSM_UNAVAILABLE"

// Sentinel errors for use with [errors.Is].
var (
	ErrInvalidJSON     = &Error{Category: CategoryInvalidJSON}
	ErrInvalidUserData = &Error{Category: CategoryInvalidUserData}
	ErrInvalidNonce    = &Error{Category: CategoryInvalidNonce}
)

var encoding = base64.StdEncoding.Strict()

// Request asks the bridge for an attestation document.
type Request struct {
	// UserData is the base64 encoded report data to embed in the document.
	UserData string `json:"user-data"`
	// Nonce is the base64 encoded freshness value to embed in the document.
	Nonce string `json:"nonce"`
}

// Response contains the attestation document returned by the NSM.
type Response struct {
	// Document is the base64 encoded COSE_Sign1 attestation document.
	Document string `json:"document"`
}

// ErrorResponse is sent instead of a [Response] if a request could not be served.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// Error is a request that could not be decoded.
type Error struct {
	Category string
	Err      error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Category
	}
	return e.Category + ": " + e.Err.Error()
}

// Unwrap returns the underlying decoding error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an [*Error] of the same category.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Category == e.Category
}

// Response converts the error to the message sent back to the caller.
func (e *Error) Response() ErrorResponse {
	resp := ErrorResponse{Error: e.Category}
	if e.Err != nil {
		resp.Message = e.Err.Error()
	}
	return resp
}

// ParseRequest parses a single message as a [Request].
// Invalid UTF-8 sequences are replaced before parsing.
// Field names are case sensitive. Both fields must be present exactly once and be strings.
// Unknown fields are ignored.
func ParseRequest(msg []byte) (Request, error) {
	text := []byte(strings.ToValidUTF8(string(msg), "�"))
	if !gjson.ValidBytes(text) {
		return Request{}, &Error{Category: CategoryInvalidJSON, Err: errors.New("malformed JSON")}
	}
	obj := gjson.ParseBytes(text)
	if !obj.IsObject() {
		return Request{}, &Error{Category: CategoryInvalidJSON, Err: fmt.Errorf("invalid type: %s, expected a request object", obj.Type)}
	}

	var req Request
	seen := make(map[string]bool, 2)
	var fieldErr error
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		var field *string
		switch name {
		case "user-data":
			field = &req.UserData
		case "nonce":
			field = &req.Nonce
		default:
			return true
		}
		if seen[name] {
			fieldErr = fmt.Errorf("duplicate field `%s`", name)
			return false
		}
		seen[name] = true
		if value.Type != gjson.String {
			fieldErr = fmt.Errorf("invalid type for field `%s`: %s, expected a string", name, value.Type)
			return false
		}
		*field = value.String()
		return true
	})
	if fieldErr != nil {
		return Request{}, &Error{Category: CategoryInvalidJSON, Err: fieldErr}
	}
	if !seen["user-data"] {
		return Request{}, &Error{Category: CategoryInvalidJSON, Err: errors.New("missing field `user-data`")}
	}
	if !seen["nonce"] {
		return Request{}, &Error{Category: CategoryInvalidJSON, Err: errors.New("missing field `nonce`")}
	}
	return req, nil
}

// DecodeUserData returns the decoded user data.
func (r Request) DecodeUserData() ([]byte, error) {
	data, err := encoding.DecodeString(r.UserData)
	if err != nil {
		return nil, &Error{Category: CategoryInvalidUserData, Err: err}
	}
	return data, nil
}

// DecodeNonce returns the decoded nonce.
func (r Request) DecodeNonce() ([]byte, error) {
	data, err := encoding.DecodeString(r.Nonce)
	if err != nil {
		return nil, &Error{Category: CategoryInvalidNonce, Err: err}
	}
	return data, nil
}

// NewRequest creates a request for the given raw user data and nonce.
func NewRequest(userData, nonce []byte) Request {
	return Request{
		UserData: encoding.EncodeToString(userData),
		Nonce:    encoding.EncodeToString(nonce),
	}
}

// NewResponse creates a response for the given raw document.
func NewResponse(document []byte) Response {
	return Response{Document: encoding.EncodeToString(document)}
}

// DecodeDocument returns the decoded attestation document.
func (r Response) DecodeDocument() ([]byte, error) {
	return encoding.DecodeString(r.Document)
}

// NSMError creates the response for a failed NSM call.
func NSMError(err error) ErrorResponse {
	return ErrorResponse{
		Error:   CategoryNSMUnavailable,
		Message: err.Error(),
		Status:  StatusNSMUnavailable,
	}
}

// Marshal encodes v as compact JSON without escaping HTML characters.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
