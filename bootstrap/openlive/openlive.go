// Package openlive resolves rooms through the signed open-platform API. A
// session ("game") is opened on Initialize, kept alive while the client runs
// and ended on teardown.
package openlive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/internal/logging"
)

// DefaultBaseURL is the open-platform API root.
const DefaultBaseURL = "https://live-open.biliapi.com"

// DefaultGameHeartbeatInterval is the period of session keep-alive calls.
const DefaultGameHeartbeatInterval = 20 * time.Second

// Config configures a Bootstrap.
type Config struct {
	AccessKey    string
	AccessSecret string
	AppID        int64

	// AuthCode is the streamer's identity code.
	AuthCode string

	BaseURL               string
	GameHeartbeatInterval time.Duration
	HTTPClient            *http.Client
	Logger                *slog.Logger
}

// APIError is a non-zero code in an open-platform response.
type APIError struct {
	Code      int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("open-live error %d: %s (request %s)", e.Code, e.Message, e.RequestID)
}

// Bootstrap is the signed-API blivedm.Bootstrap.
type Bootstrap struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	gameID string
}

// New creates a Bootstrap. AccessKey, AccessSecret and AuthCode are required.
func New(cfg Config) (*Bootstrap, error) {
	if cfg.AccessKey == "" || cfg.AccessSecret == "" {
		return nil, errors.New("AccessKey and AccessSecret are required")
	}
	if cfg.AuthCode == "" {
		return nil, errors.New("AuthCode is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GameHeartbeatInterval == 0 {
		cfg.GameHeartbeatInterval = DefaultGameHeartbeatInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Bootstrap{
		cfg:    cfg,
		client: client,
		log:    log.With("app", cfg.AppID),
		now:    time.Now,
	}, nil
}

// GameID returns the id of the open session, or "".
func (b *Bootstrap) GameID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gameID
}

type startData struct {
	GameInfo struct {
		GameID string `json:"game_id"`
	} `json:"game_info"`
	WebsocketInfo struct {
		AuthBody string   `json:"auth_body"`
		WSSLink  []string `json:"wss_link"`
	} `json:"websocket_info"`
	AnchorInfo struct {
		RoomID int64 `json:"room_id"`
		UID    int64 `json:"uid"`
	} `json:"anchor_info"`
}

// Initialize opens the session. There is no fallback: any failure is fatal.
func (b *Bootstrap) Initialize(ctx context.Context) (*blivedm.RoomInfo, error) {
	var data startData
	err := b.call(ctx, "/v2/app/start", map[string]any{
		"code":   b.cfg.AuthCode,
		"app_id": b.cfg.AppID,
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if len(data.WebsocketInfo.WSSLink) == 0 {
		return nil, errors.New("start: empty wss_link")
	}
	if !json.Valid([]byte(data.WebsocketInfo.AuthBody)) {
		return nil, errors.New("start: auth_body is not JSON")
	}

	b.mu.Lock()
	b.gameID = data.GameInfo.GameID
	b.mu.Unlock()

	b.log.Info("open-live session started",
		"room", data.AnchorInfo.RoomID, "game", data.GameInfo.GameID)
	return &blivedm.RoomInfo{
		RoomID:         data.AnchorInfo.RoomID,
		OwnerUID:       data.AnchorInfo.UID,
		HostCandidates: data.WebsocketInfo.WSSLink,
		AuthPayload:    []byte(data.WebsocketInfo.AuthBody),
	}, nil
}

// AuthPayload returns the auth body issued by the start call.
func (b *Bootstrap) AuthPayload(info *blivedm.RoomInfo) ([]byte, error) {
	if info == nil || len(info.AuthPayload) == 0 {
		return nil, blivedm.ErrNotBootstrapped
	}
	return info.AuthPayload, nil
}

// KeepaliveInterval is zero for sessions without a game id, which need no
// heartbeat.
func (b *Bootstrap) KeepaliveInterval() time.Duration {
	if b.GameID() == "" {
		return 0
	}
	return b.cfg.GameHeartbeatInterval
}

// Keepalive sends the session heartbeat.
func (b *Bootstrap) Keepalive(ctx context.Context, info *blivedm.RoomInfo) error {
	gameID := b.GameID()
	if gameID == "" {
		return nil
	}
	if err := b.call(ctx, "/v2/app/heartbeat", map[string]any{"game_id": gameID}, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Teardown ends the session. Without it the room may refuse a new session
// for a while.
func (b *Bootstrap) Teardown(ctx context.Context, info *blivedm.RoomInfo) error {
	b.mu.Lock()
	gameID := b.gameID
	b.gameID = ""
	b.mu.Unlock()
	if gameID == "" {
		return nil
	}

	err := b.call(ctx, "/v2/app/end", map[string]any{
		"app_id":  b.cfg.AppID,
		"game_id": gameID,
	}, nil)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	b.log.Info("open-live session ended", "game", gameID)
	return nil
}

type response struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// call POSTs a signed JSON body and decodes "data" into out, if non-nil.
func (b *Bootstrap) call(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	sign(req, b.cfg.AccessKey, b.cfg.AccessSecret, payload, b.now())

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if r.Code != 0 {
		return &APIError{Code: r.Code, Message: r.Message, RequestID: r.RequestID}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}

var _ blivedm.Bootstrap = (*Bootstrap)(nil)
