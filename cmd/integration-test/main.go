// Integration test against the live chat servers.
//
// Prerequisites:
//   - Network access to api.live.bilibili.com and the chat servers
//   - Optionally BLIVEDM_ROOM_ID (defaults to a room that is usually live)
//
// Usage:
//
//	go run ./cmd/integration-test
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/bootstrap/web"
)

const defaultRoomID = 21396545

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	passed := 0
	failed := 0

	roomID := int64(defaultRoomID)
	if v := os.Getenv("BLIVEDM_ROOM_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatalf("BLIVEDM_ROOM_ID: %v", err)
		}
		roomID = id
	}

	fmt.Println("=== blivedm Integration Test ===")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	// --- Test 1: Bootstrap the room ---
	fmt.Println("[Test 1] Resolve room and chat servers...")

	boot := web.New(web.Config{RoomID: roomID})
	info, err := boot.Initialize(ctx)
	if err != nil {
		log.Fatalf("  FAIL: Initialize(): %v", err)
	}
	if info.Degraded {
		fmt.Printf("  PASS (degraded): room=%d hosts=%d\n", info.RoomID, len(info.HostCandidates))
	} else {
		fmt.Printf("  PASS: room=%d owner=%d hosts=%d\n", info.RoomID, info.OwnerUID, len(info.HostCandidates))
	}
	passed++

	// --- Test 2: Connect and authenticate ---
	fmt.Println("[Test 2] Connect and authenticate...")

	client, err := blivedm.NewClient(blivedm.Config{HeartbeatInterval: 5 * time.Second}, boot)
	if err != nil {
		log.Fatalf("  FAIL: NewClient(): %v", err)
	}

	opened := make(chan struct{}, 1)
	client.OnStateChange(func(ev blivedm.StateEvent) {
		log.Printf("  [state] %s -> %s (retry=%d)", ev.Old, ev.New, ev.RetryCount)
		if ev.New == blivedm.StateOpen {
			select {
			case opened <- struct{}{}:
			default:
			}
		}
	})

	popularity := make(chan blivedm.Command, 1)
	mux := blivedm.NewCommandMux()
	mux.HandleFunc(blivedm.PopularityTag, func(c *blivedm.Client, cmd blivedm.Command) {
		select {
		case popularity <- cmd:
		default:
		}
	})
	client.SetHandler(mux)

	if err := client.Start(); err != nil {
		log.Fatalf("  FAIL: Start(): %v", err)
	}
	defer client.Close()

	select {
	case <-opened:
		fmt.Println("  PASS")
		passed++
	case <-ctx.Done():
		fmt.Println("  FAIL: connection never opened")
		failed++
	}

	// --- Test 3: Heartbeat reply ---
	fmt.Println("[Test 3] Heartbeat reply carries popularity...")

	select {
	case cmd := <-popularity:
		fmt.Printf("  PASS: popularity=%v\n", cmd.Payload["value"])
		passed++
	case <-time.After(30 * time.Second):
		fmt.Println("  FAIL: no heartbeat reply within 30s")
		failed++
	}

	// --- Test 4: Stop ---
	fmt.Println("[Test 4] Stop and close...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	err = client.StopAndClose(stopCtx)
	switch {
	case err != nil:
		fmt.Printf("  FAIL: StopAndClose(): %v\n", err)
		failed++
	case client.State() != blivedm.StateClosed:
		fmt.Printf("  FAIL: state=%s, want closed\n", client.State())
		failed++
	case !errors.Is(client.Start(), blivedm.ErrClientClosed):
		fmt.Println("  FAIL: Start() after Close should fail")
		failed++
	default:
		fmt.Println("  PASS")
		passed++
	}

	// --- Summary ---
	fmt.Println()
	fmt.Println("=== Results ===")
	fmt.Printf("  Passed: %d\n", passed)
	fmt.Printf("  Failed: %d\n", failed)

	if failed > 0 {
		os.Exit(1)
	}
}
