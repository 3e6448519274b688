// Package web resolves rooms the way the browser player does: through the
// public live-room REST endpoints, optionally with a logged-in cookie session.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/internal/logging"
)

// Default endpoints.
const (
	DefaultRoomInitURL  = "https://api.live.bilibili.com/xlive/web-room/v1/index/getInfoByRoom"
	DefaultNavURL       = "https://api.bilibili.com/x/web-interface/nav"
	DefaultBuvidURL     = "https://t.bilibili.com/"
	DefaultDanmuInfoURL = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo"
)

// FallbackHost is used when the server list cannot be fetched.
const FallbackHost = "wss://broadcastlv.chat.bilibili.com:443/sub"

// codeNotLoggedIn is the nav answer for an anonymous or expired session.
const codeNotLoggedIn = -101

// Endpoints overrides the REST endpoints. Empty fields take the defaults.
type Endpoints struct {
	RoomInit  string
	Nav       string
	Buvid     string
	DanmuInfo string
}

func (e Endpoints) withDefaults() Endpoints {
	if e.RoomInit == "" {
		e.RoomInit = DefaultRoomInitURL
	}
	if e.Nav == "" {
		e.Nav = DefaultNavURL
	}
	if e.Buvid == "" {
		e.Buvid = DefaultBuvidURL
	}
	if e.DanmuInfo == "" {
		e.DanmuInfo = DefaultDanmuInfoURL
	}
	return e
}

// Config configures a Bootstrap.
type Config struct {
	// RoomID is the room to join. Short ids are accepted.
	RoomID int64

	// Credentials holds the login cookies. Nil joins anonymously.
	Credentials *blivedm.CredentialStore

	// HTTPClient is used for the REST calls. Defaults to a client with a
	// 10 second timeout.
	HTTPClient *http.Client

	Endpoints Endpoints
	Logger    *slog.Logger
}

// Bootstrap is the session-based blivedm.Bootstrap.
type Bootstrap struct {
	roomID    int64
	creds     *blivedm.CredentialStore
	client    *http.Client
	endpoints Endpoints
	log       *slog.Logger
}

// New creates a Bootstrap for cfg.RoomID.
func New(cfg Config) *Bootstrap {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Bootstrap{
		roomID:    cfg.RoomID,
		creds:     cfg.Credentials,
		client:    client,
		endpoints: cfg.Endpoints.withDefaults(),
		log:       log.With("room", cfg.RoomID),
	}
}

type authParams struct {
	UID      int64  `json:"uid"`
	RoomID   int64  `json:"roomid"`
	ProtoVer int    `json:"protover"`
	Buvid    string `json:"buvid"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
	Key      string `json:"key,omitempty"`
}

// Initialize resolves the room, the session uid, the buvid and the server
// list. Any single failure is replaced by a fallback and flagged Degraded;
// only when both the room and the server list are unavailable does it fail.
func (b *Bootstrap) Initialize(ctx context.Context) (*blivedm.RoomInfo, error) {
	cookies := b.creds.Load()
	session, jar, err := newSession(b.client, cookies,
		b.endpoints.RoomInit, b.endpoints.Nav, b.endpoints.Buvid, b.endpoints.DanmuInfo)
	if err != nil {
		return nil, err
	}

	info := &blivedm.RoomInfo{}

	roomErr := b.initRoom(ctx, session, info)
	if roomErr != nil {
		b.log.Warn("room init failed, using the given room id", "error", roomErr)
		info.RoomID = b.roomID
		info.OwnerUID = 0
		info.Degraded = true
	}

	uid, err := b.initUID(ctx, session, cookies)
	if err != nil {
		b.log.Warn("uid init failed, continuing anonymously", "error", err)
	}

	buvid := b.initBuvid(ctx, session, jar, cookies)

	token, hostErr := b.initHosts(ctx, session, info)
	if hostErr != nil {
		b.log.Warn("server list fetch failed, using fallback host", "error", hostErr)
		info.HostCandidates = []string{FallbackHost}
		token = ""
		info.Degraded = true
	}

	if roomErr != nil && hostErr != nil {
		return nil, errors.Join(roomErr, hostErr)
	}

	info.AuthPayload, err = json.Marshal(authParams{
		UID:      uid,
		RoomID:   info.RoomID,
		ProtoVer: int(blivedm.ProtoBrotli),
		Buvid:    buvid,
		Platform: "web",
		Type:     2,
		Key:      token,
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (b *Bootstrap) initRoom(ctx context.Context, session *http.Client, info *blivedm.RoomInfo) error {
	data, err := getJSON[roomInitData](ctx, session, b.endpoints.RoomInit,
		url.Values{"room_id": {strconv.FormatInt(b.roomID, 10)}})
	if err != nil {
		return fmt.Errorf("room init: %w", err)
	}
	if data.RoomInfo.RoomID == 0 {
		return errors.New("room init: empty room_info")
	}
	info.RoomID = data.RoomInfo.RoomID
	info.OwnerUID = data.RoomInfo.UID
	return nil
}

// initUID returns the logged-in uid, or 0 for an anonymous session.
func (b *Bootstrap) initUID(ctx context.Context, session *http.Client, cookies blivedm.Cookies) (int64, error) {
	if cookies.Get("SESSDATA") == "" {
		return 0, nil
	}

	data, err := getJSON[navData](ctx, session, b.endpoints.Nav, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeNotLoggedIn {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("nav: %w", err)
	}
	if !data.IsLogin {
		return 0, nil
	}
	b.log.Info("continuing as logged-in user", "uname", data.Uname, "uid", data.Mid)
	return data.Mid, nil
}

// initBuvid returns the buvid3 cookie, visiting the buvid endpoint to obtain
// one if the stored cookies have none.
func (b *Bootstrap) initBuvid(ctx context.Context, session *http.Client, jar http.CookieJar, cookies blivedm.Cookies) string {
	if v := cookies.Get("buvid3"); v != "" {
		return v
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoints.Buvid, nil)
	if err != nil {
		b.log.Warn("buvid request", "error", err)
		return ""
	}
	req.Header.Set("User-Agent", blivedm.UserAgent)
	resp, err := session.Do(req)
	if err != nil {
		b.log.Warn("buvid request failed", "error", err)
		return ""
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b.log.Warn("buvid request failed", "status", resp.Status)
	}

	buvid := jarCookie(jar, b.endpoints.Buvid, "buvid3")
	if buvid == "" {
		b.log.Warn("no buvid3 cookie received")
	}
	return buvid
}

// initHosts fills the host candidates and returns the auth token.
func (b *Bootstrap) initHosts(ctx context.Context, session *http.Client, info *blivedm.RoomInfo) (string, error) {
	data, err := getJSON[danmuInfoData](ctx, session, b.endpoints.DanmuInfo, url.Values{
		"id":   {strconv.FormatInt(info.RoomID, 10)},
		"type": {"0"},
	})
	if err != nil {
		return "", fmt.Errorf("danmu info: %w", err)
	}
	if len(data.HostList) == 0 {
		return "", errors.New("danmu info: empty host_list")
	}

	hosts := make([]string, 0, len(data.HostList))
	for _, h := range data.HostList {
		hosts = append(hosts, fmt.Sprintf("wss://%s:%d/sub", h.Host, h.WSSPort))
	}
	info.HostCandidates = hosts
	b.log.Info("loaded danmu server info", "hosts", len(hosts))
	return data.Token, nil
}

// AuthPayload returns the payload built by Initialize.
func (b *Bootstrap) AuthPayload(info *blivedm.RoomInfo) ([]byte, error) {
	if info == nil || len(info.AuthPayload) == 0 {
		return nil, blivedm.ErrNotBootstrapped
	}
	return info.AuthPayload, nil
}

// KeepaliveInterval returns 0; web sessions need no keep-alive.
func (b *Bootstrap) KeepaliveInterval() time.Duration { return 0 }

func (b *Bootstrap) Keepalive(ctx context.Context, info *blivedm.RoomInfo) error { return nil }

func (b *Bootstrap) Teardown(ctx context.Context, info *blivedm.RoomInfo) error { return nil }

var _ blivedm.Bootstrap = (*Bootstrap)(nil)
