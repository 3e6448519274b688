package openlive

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blivedm "github.com/c-basalt/blivedm-dump"
)

const (
	testKey    = "access-key"
	testSecret = "access-secret"
)

// verify checks the signature the way the platform does.
func verify(t *testing.T, r *http.Request, body []byte) {
	t.Helper()

	sum := md5.Sum(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), r.Header.Get("x-bili-content-md5"))
	assert.Equal(t, testKey, r.Header.Get("x-bili-accesskeyid"))
	assert.Equal(t, "HMAC-SHA256", r.Header.Get("x-bili-signature-method"))
	assert.Equal(t, "1.0", r.Header.Get("x-bili-signature-version"))
	assert.NotEmpty(t, r.Header.Get("x-bili-signature-nonce"))

	toSign := "x-bili-accesskeyid:" + r.Header.Get("x-bili-accesskeyid") + "\n" +
		"x-bili-content-md5:" + r.Header.Get("x-bili-content-md5") + "\n" +
		"x-bili-signature-method:" + r.Header.Get("x-bili-signature-method") + "\n" +
		"x-bili-signature-nonce:" + r.Header.Get("x-bili-signature-nonce") + "\n" +
		"x-bili-signature-version:" + r.Header.Get("x-bili-signature-version") + "\n" +
		"x-bili-timestamp:" + r.Header.Get("x-bili-timestamp")
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(toSign))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get("Authorization"))
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
}

type call struct {
	path string
	body map[string]any
}

type fakePlatform struct {
	*httptest.Server

	mu        sync.Mutex
	calls     []call
	startCode int
	gameID    string
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	fp := &fakePlatform{gameID: "game-1"}
	fp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		verify(t, r, body)

		var decoded map[string]any
		if !assert.NoError(t, json.Unmarshal(body, &decoded)) {
			return
		}
		fp.mu.Lock()
		fp.calls = append(fp.calls, call{path: r.URL.Path, body: decoded})
		startCode := fp.startCode
		fp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/app/start":
			if startCode != 0 {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code": startCode, "message": "invalid code", "request_id": "req-1",
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 0,
				"data": map[string]any{
					"game_info": map[string]any{"game_id": fp.gameID},
					"websocket_info": map[string]any{
						"auth_body": `{"roomid":7,"key":"k"}`,
						"wss_link":  []string{"wss://a.example/sub", "wss://b.example/sub"},
					},
					"anchor_info": map[string]any{"room_id": 7, "uid": 99},
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{}})
		}
	}))
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakePlatform) snapshot() []call {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]call(nil), fp.calls...)
}

func newTestBootstrap(t *testing.T, fp *fakePlatform) *Bootstrap {
	t.Helper()
	b, err := New(Config{
		AccessKey:    testKey,
		AccessSecret: testSecret,
		AppID:        1001,
		AuthCode:     "AUTHCODE",
		BaseURL:      fp.URL,
	})
	require.NoError(t, err)
	return b
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{AuthCode: "x"})
	assert.Error(t, err)
	_, err = New(Config{AccessKey: "k", AccessSecret: "s"})
	assert.Error(t, err)
}

func TestSignHeaders_OrderAndSignature(t *testing.T) {
	body := []byte(`{"game_id":"g"}`)
	headers, sig := signHeaders("k", "s", body, "nonce", time.Unix(1700000000, 0))

	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = h.key
	}
	assert.Equal(t, []string{
		"x-bili-accesskeyid",
		"x-bili-content-md5",
		"x-bili-signature-method",
		"x-bili-signature-nonce",
		"x-bili-signature-version",
		"x-bili-timestamp",
	}, keys)
	assert.Equal(t, "1700000000", headers[5].value)

	sum := md5.Sum(body)
	toSign := "x-bili-accesskeyid:k\nx-bili-content-md5:" + hex.EncodeToString(sum[:]) +
		"\nx-bili-signature-method:HMAC-SHA256\nx-bili-signature-nonce:nonce" +
		"\nx-bili-signature-version:1.0\nx-bili-timestamp:1700000000"
	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write([]byte(toSign))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
}

func TestInitialize(t *testing.T) {
	fp := newFakePlatform(t)
	b := newTestBootstrap(t, fp)

	info, err := b.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), info.RoomID)
	assert.Equal(t, int64(99), info.OwnerUID)
	assert.Equal(t, []string{"wss://a.example/sub", "wss://b.example/sub"}, info.HostCandidates)
	assert.Equal(t, "game-1", b.GameID())
	assert.Equal(t, DefaultGameHeartbeatInterval, b.KeepaliveInterval())

	payload, err := b.AuthPayload(info)
	require.NoError(t, err)
	assert.JSONEq(t, `{"roomid":7,"key":"k"}`, string(payload))

	calls := fp.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "/v2/app/start", calls[0].path)
	assert.Equal(t, "AUTHCODE", calls[0].body["code"])
	assert.EqualValues(t, 1001, calls[0].body["app_id"])
}

func TestInitialize_APIError(t *testing.T) {
	fp := newFakePlatform(t)
	fp.startCode = 7001
	b := newTestBootstrap(t, fp)

	_, err := b.Initialize(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 7001, apiErr.Code)
	assert.Equal(t, "req-1", apiErr.RequestID)
	assert.Empty(t, b.GameID())
}

func TestKeepaliveAndTeardown(t *testing.T) {
	fp := newFakePlatform(t)
	b := newTestBootstrap(t, fp)
	info, err := b.Initialize(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Keepalive(context.Background(), info))
	require.NoError(t, b.Teardown(context.Background(), info))
	require.NoError(t, b.Teardown(context.Background(), info))

	calls := fp.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "/v2/app/heartbeat", calls[1].path)
	assert.Equal(t, "game-1", calls[1].body["game_id"])
	assert.Equal(t, "/v2/app/end", calls[2].path)
	assert.Equal(t, "game-1", calls[2].body["game_id"])
	assert.EqualValues(t, 1001, calls[2].body["app_id"])

	assert.Zero(t, b.KeepaliveInterval())
}

func TestNoGameID_NoSessionCalls(t *testing.T) {
	fp := newFakePlatform(t)
	fp.gameID = ""
	b := newTestBootstrap(t, fp)
	info, err := b.Initialize(context.Background())
	require.NoError(t, err)

	assert.Zero(t, b.KeepaliveInterval())
	require.NoError(t, b.Keepalive(context.Background(), info))
	require.NoError(t, b.Teardown(context.Background(), info))
	assert.Len(t, fp.snapshot(), 1)
}

func TestAuthPayload_NotBootstrapped(t *testing.T) {
	fp := newFakePlatform(t)
	_, err := newTestBootstrap(t, fp).AuthPayload(nil)
	assert.ErrorIs(t, err, blivedm.ErrNotBootstrapped)
}
