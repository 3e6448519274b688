package blivedm

import (
	"context"
	"time"
)

// transport is one open connection to a chat server. The current
// implementation is a WebSocket carrying binary frames (conn.go).
type transport interface {
	// readFrame blocks until the next binary frame arrives.
	readFrame() ([]byte, error)

	// writeFrame sends one binary frame. It is safe for concurrent use and
	// returns errTransportClosed once close has been called.
	writeFrame(data []byte) error

	// setReadDeadline bounds the next readFrame calls; the zero time clears it.
	setReadDeadline(t time.Time) error

	// close shuts the connection down. Safe to call more than once.
	close() error
}

// dialFunc opens a transport to url.
type dialFunc func(ctx context.Context, url string) (transport, error)
