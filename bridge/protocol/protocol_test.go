/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	testCases := map[string]struct {
		msg     string
		want    Request
		wantErr bool
	}{
		"valid": {
			msg:  `{"user-data":"aGVsbG8=","nonce":"d29ybGQ="}`,
			want: Request{UserData: "aGVsbG8=", Nonce: "d29ybGQ="},
		},
		"unknown fields are ignored": {
			msg:  `{"user-data":"","nonce":"","public-key":"AA=="}`,
			want: Request{},
		},
		"surrounding whitespace": {
			msg:  " {\"user-data\":\"\",\"nonce\":\"\"}\n",
			want: Request{},
		},
		"not JSON": {
			msg:     "hello",
			wantErr: true,
		},
		"truncated": {
			msg:     `{"user-data":"aGVsbG8=","nonce":"d29y`,
			wantErr: true,
		},
		"two messages in one chunk": {
			msg:     `{"user-data":"","nonce":""}{"user-data":"","nonce":""}`,
			wantErr: true,
		},
		"missing user data": {
			msg:     `{"nonce":"d29ybGQ="}`,
			wantErr: true,
		},
		"missing nonce": {
			msg:     `{"user-data":"aGVsbG8="}`,
			wantErr: true,
		},
		"wrong type": {
			msg:     `{"user-data":1,"nonce":"d29ybGQ="}`,
			wantErr: true,
		},
		"null": {
			msg:     `null`,
			wantErr: true,
		},
		"invalid UTF-8": {
			msg:  "{\"user-data\":\"\xff\",\"nonce\":\"\"}",
			want: Request{UserData: "�", Nonce: ""},
		},
		"escaped field name": {
			msg:  `{"user\u002ddata":"aGVsbG8=","nonce":"d29ybGQ="}`,
			want: Request{UserData: "aGVsbG8=", Nonce: "d29ybGQ="},
		},
		"field names are case sensitive": {
			msg:     `{"USER-DATA":"aGVsbG8=","Nonce":"d29ybGQ="}`,
			wantErr: true,
		},
		"duplicate user data": {
			msg:     `{"user-data":"aGVsbG8=","nonce":"d29ybGQ=","user-data":"aGk="}`,
			wantErr: true,
		},
		"duplicate nonce": {
			msg:     `{"user-data":"aGVsbG8=","nonce":"d29ybGQ=","nonce":"d29ybGQ="}`,
			wantErr: true,
		},
		"nonce is null": {
			msg:     `{"user-data":"aGVsbG8=","nonce":null}`,
			wantErr: true,
		},
		"array": {
			msg:     `["aGVsbG8=","d29ybGQ="]`,
			wantErr: true,
		},
		"empty": {
			msg:     "",
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := ParseRequest([]byte(tc.msg))
			if tc.wantErr {
				assert.ErrorIs(err, ErrInvalidJSON)
				var protoErr *Error
				assert.True(errors.As(err, &protoErr))
				assert.Equal(CategoryInvalidJSON, protoErr.Response().Error)
				assert.NotEmpty(protoErr.Response().Message)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}

func TestDecodeFields(t *testing.T) {
	testCases := map[string]struct {
		req          Request
		wantUserData []byte
		wantNonce    []byte
		userDataErr  bool
		nonceErr     bool
	}{
		"valid": {
			req:          Request{UserData: "aGVsbG8=", Nonce: "d29ybGQ="},
			wantUserData: []byte("hello"),
			wantNonce:    []byte("world"),
		},
		"empty": {
			req:          Request{},
			wantUserData: []byte{},
			wantNonce:    []byte{},
		},
		"invalid user data": {
			req:         Request{UserData: "not-base64!", Nonce: "d29ybGQ="},
			userDataErr: true,
			wantNonce:   []byte("world"),
		},
		"invalid nonce": {
			req:          Request{UserData: "aGVsbG8=", Nonce: "d29ybGQ"},
			wantUserData: []byte("hello"),
			nonceErr:     true,
		},
		"non-canonical padding bits": {
			req:          Request{UserData: "aGVsbG9=", Nonce: ""},
			userDataErr:  true,
			wantNonce:    []byte{},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			userData, err := tc.req.DecodeUserData()
			if tc.userDataErr {
				assert.ErrorIs(err, ErrInvalidUserData)
				assert.NotErrorIs(err, ErrInvalidNonce)
			} else {
				assert.NoError(err)
				assert.Equal(tc.wantUserData, userData)
			}

			nonce, err := tc.req.DecodeNonce()
			if tc.nonceErr {
				assert.ErrorIs(err, ErrInvalidNonce)
			} else {
				assert.NoError(err)
				assert.Equal(tc.wantNonce, nonce)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	assert := assert.New(t)

	_, err := Request{UserData: "not-base64!"}.DecodeUserData()
	var protoErr *Error
	assert.True(errors.As(err, &protoErr))
	assert.Equal(ErrorResponse{
		Error:   CategoryInvalidUserData,
		Message: "illegal base64 data at input byte 3",
	}, protoErr.Response())
	assert.Equal("Invalid report-data encoding: illegal base64 data at input byte 3", err.Error())
}

func TestMarshal(t *testing.T) {
	testCases := map[string]struct {
		v    any
		want string
	}{
		"document": {
			v:    NewResponse([]byte{1, 2, 3}),
			want: `{"document":"AQID"}`,
		},
		"request": {
			v:    NewRequest([]byte("hello"), []byte("world")),
			want: `{"user-data":"aGVsbG8=","nonce":"d29ybGQ="}`,
		},
		"error without status": {
			v:    ErrorResponse{Error: CategoryInvalidJSON, Message: "invalid character '<' looking for beginning of value"},
			want: `{"error":"Invalid JSON request","message":"invalid character '<' looking for beginning of value"}`,
		},
		"nsm error": {
			v:    NSMError(errors.New("NSM Error: InternalError")),
			want: `{"error":"NSM device not available","message":"NSM Error: InternalError","status":"NSM_UNAVAILABLE"}`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			got, err := Marshal(tc.v)
			require.NoError(err)
			assert.Equal(tc.want, string(got))
		})
	}
}

func TestResponseDecodeDocument(t *testing.T) {
	assert := assert.New(t)

	doc, err := Response{Document: "AQID"}.DecodeDocument()
	assert.NoError(err)
	assert.Equal([]byte{1, 2, 3}, doc)

	_, err = Response{Document: "AQI!"}.DecodeDocument()
	assert.Error(err)
}
