// Sample prints the chat of one live room to the terminal.
//
// Configuration via environment variables:
//
//	BLIVEDM_ROOM_ID  - room to join (short ids work)
//	BLIVEDM_SESSDATA - optional SESSDATA cookie; without it user names are masked
//
// Usage:
//
//	BLIVEDM_ROOM_ID=21396545 go run ./cmd/blivedm-sample
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/bootstrap/web"
)

// danmuMsg carries the positional info array of DANMU_MSG.
type danmuMsg struct {
	Info []json.RawMessage `json:"info"`
}

type sendGift struct {
	Data struct {
		Uname     string `json:"uname"`
		GiftName  string `json:"giftName"`
		Num       int    `json:"num"`
		CoinType  string `json:"coin_type"`
		TotalCoin int64  `json:"total_coin"`
	} `json:"data"`
}

type superChat struct {
	Data struct {
		Price    int    `json:"price"`
		Message  string `json:"message"`
		UserInfo struct {
			Uname string `json:"uname"`
		} `json:"user_info"`
	} `json:"data"`
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	roomID, err := strconv.ParseInt(os.Getenv("BLIVEDM_ROOM_ID"), 10, 64)
	if err != nil || roomID <= 0 {
		log.Fatalf("BLIVEDM_ROOM_ID must be a positive room id")
	}

	var creds *blivedm.CredentialStore
	if sessdata := os.Getenv("BLIVEDM_SESSDATA"); sessdata != "" {
		creds = blivedm.NewCredentialStore(map[string]string{"SESSDATA": sessdata})
	}

	client, err := blivedm.NewClient(blivedm.Config{}, web.New(web.Config{
		RoomID:      roomID,
		Credentials: creds,
	}))
	if err != nil {
		log.Fatalf("NewClient: %v", err)
	}

	mux := blivedm.NewCommandMux()
	mux.HandleFunc(blivedm.PopularityTag, func(c *blivedm.Client, cmd blivedm.Command) {
		log.Printf("[%d] popularity: %v", c.RoomID(), cmd.Payload["value"])
	})
	mux.HandleFunc("DANMU_MSG", func(c *blivedm.Client, cmd blivedm.Command) {
		var msg danmuMsg
		if err := cmd.UnmarshalPayload(&msg); err != nil || len(msg.Info) < 3 {
			return
		}
		var text string
		var user []json.RawMessage
		_ = json.Unmarshal(msg.Info[1], &text)
		_ = json.Unmarshal(msg.Info[2], &user)
		var uname string
		if len(user) > 1 {
			_ = json.Unmarshal(user[1], &uname)
		}
		log.Printf("[%d] %s: %s", c.RoomID(), uname, text)
	})
	mux.HandleFunc("SEND_GIFT", func(c *blivedm.Client, cmd blivedm.Command) {
		var g sendGift
		if err := cmd.UnmarshalPayload(&g); err != nil {
			return
		}
		log.Printf("[%d] %s sent %s x%d (%s %d)", c.RoomID(), g.Data.Uname, g.Data.GiftName,
			g.Data.Num, g.Data.CoinType, g.Data.TotalCoin)
	})
	mux.HandleFunc("SUPER_CHAT_MESSAGE", func(c *blivedm.Client, cmd blivedm.Command) {
		var sc superChat
		if err := cmd.UnmarshalPayload(&sc); err != nil {
			return
		}
		log.Printf("[%d] super chat %d CNY from %s: %s", c.RoomID(), sc.Data.Price,
			sc.Data.UserInfo.Uname, sc.Data.Message)
	})
	client.SetHandler(mux)
	client.OnStateChange(func(ev blivedm.StateEvent) {
		log.Printf("state %s -> %s", ev.Old, ev.New)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := client.Start(); err != nil {
		log.Fatalf("Start: %v", err)
	}
	defer client.StopAndClose(context.Background())

	log.Printf("listening to room %d", roomID)
	<-ctx.Done()
	log.Println("shutting down")
}
