// Package blivedm is a client for the Bilibili live chat ("danmaku") stream.
//
// A Client keeps one WebSocket connection to a chat server, authenticates,
// decodes the binary packet stream (plain, zlib and brotli bodies) and hands
// every command to the registered handlers in wire order. Connection failures
// are retried across all known servers with capped, jittered backoff.
//
// Room resolution is pluggable through the Bootstrap interface; see the
// bootstrap/web and bootstrap/openlive packages.
//
// Basic usage:
//
//	boot := web.New(web.Config{RoomID: 21396545})
//	client, err := blivedm.NewClient(blivedm.Config{}, boot)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mux := blivedm.NewCommandMux()
//	mux.HandleFunc("DANMU_MSG", func(c *blivedm.Client, cmd blivedm.Command) {
//	    log.Printf("room %d: %v", c.RoomID(), cmd.Payload["info"])
//	})
//	client.SetHandler(mux)
//
//	if err := client.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.StopAndClose(context.Background())
package blivedm
