package blivedm

import (
	"context"
	"time"
)

// RoomInfo is everything a client needs to connect to a room. It is produced
// by a Bootstrap once and reused for every connect attempt afterwards.
type RoomInfo struct {
	RoomID   int64
	OwnerUID int64

	// HostCandidates are the WebSocket URLs of the chat servers, in failover
	// order. Never empty.
	HostCandidates []string

	// AuthPayload is the opaque body of the auth packet.
	AuthPayload []byte

	// Degraded is set when part of the bootstrap failed and a fallback value
	// was substituted.
	Degraded bool
}

// Bootstrap resolves a room into connection parameters. Implementations live
// in bootstrap/web (cookie sessions) and bootstrap/openlive (signed API).
type Bootstrap interface {
	// Initialize resolves the room. An error means nothing usable could be
	// produced; the client stops with an *InitError.
	Initialize(ctx context.Context) (*RoomInfo, error)

	// AuthPayload returns the body of the auth packet for info.
	AuthPayload(info *RoomInfo) ([]byte, error)

	// KeepaliveInterval is the period of Keepalive calls while the client
	// runs. Zero disables them.
	KeepaliveInterval() time.Duration

	// Keepalive maintains any server-side session opened by Initialize.
	Keepalive(ctx context.Context, info *RoomInfo) error

	// Teardown releases any server-side session opened by Initialize.
	Teardown(ctx context.Context, info *RoomInfo) error
}
