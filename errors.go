package blivedm

import (
	"errors"
	"fmt"
)

// Sentinel errors for client state.
var (
	ErrClientClosed    = errors.New("client is closed")
	ErrClientStopping  = errors.New("client is still stopping")
	ErrNotBootstrapped = errors.New("room is not bootstrapped")
)

// ErrorCode classifies a ProtocolError.
type ErrorCode int

const (
	ErrCodeBadHeader  ErrorCode = iota + 1 // header_length or total_length out of range
	ErrCodeTruncated                       // declared length exceeds the buffer
	ErrCodeBadVersion                      // unknown protocol_version
	ErrCodeDecompress                      // zlib/brotli body could not be inflated
	ErrCodeBadPayload                      // body is not the JSON/integer it should be
)

var errorCodeNames = [...]string{
	ErrCodeBadHeader:  "bad header",
	ErrCodeTruncated:  "truncated",
	ErrCodeBadVersion: "bad version",
	ErrCodeDecompress: "decompress",
	ErrCodeBadPayload: "bad payload",
}

func (c ErrorCode) String() string {
	if int(c) > 0 && int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// ProtocolError reports a malformed frame, body or compression layer.
// It only ever costs the offending packet; the connection survives.
type ProtocolError struct {
	Code  ErrorCode
	Msg   string
	Cause error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error (%s): %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("protocol error (%s): %s", e.Code, e.Msg)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

func newProtocolError(code ErrorCode, msg string, cause error) *ProtocolError {
	return &ProtocolError{Code: code, Msg: msg, Cause: cause}
}

// InitError means the room bootstrap could not produce any usable result.
// It stops the client and is reported through Handler.OnStoppedByException.
type InitError struct {
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init room failed: %v", e.Cause)
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// ConnectionError represents a failure to connect to, authenticate with, or
// stay connected to a chat server. It triggers failover, never a shutdown.
type ConnectionError struct {
	URL    string
	Reason string
	Cause  error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection error [%s]: %s: %v", e.URL, e.Reason, e.Cause)
	}
	return fmt.Sprintf("connection error [%s]: %s", e.URL, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// AuthError is returned when the server answers the auth packet with a
// non-zero code.
type AuthError struct {
	Code int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected with code %d", e.Code)
}
