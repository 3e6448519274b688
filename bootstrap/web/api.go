package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	blivedm "github.com/c-basalt/blivedm-dump"
)

// APIError is a non-zero "code" in a REST response envelope.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// getJSON GETs rawURL with query and decodes the "data" member of the
// response envelope.
func getJSON[T any](ctx context.Context, client *http.Client, rawURL string, query url.Values) (T, error) {
	var zero T

	u, err := url.Parse(rawURL)
	if err != nil {
		return zero, err
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return zero, err
	}
	req.Header.Set("User-Agent", blivedm.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("GET %s: status %s", u.Path, resp.Status)
	}
	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("GET %s: decode: %w", u.Path, err)
	}
	if env.Code != 0 {
		return zero, &APIError{Code: env.Code, Message: env.Message}
	}
	return env.Data, nil
}

type roomInitData struct {
	RoomInfo struct {
		RoomID int64 `json:"room_id"`
		UID    int64 `json:"uid"`
	} `json:"room_info"`
}

type navData struct {
	IsLogin bool   `json:"isLogin"`
	Mid     int64  `json:"mid"`
	Uname   string `json:"uname"`
}

type danmuInfoData struct {
	Token    string `json:"token"`
	HostList []struct {
		Host    string `json:"host"`
		Port    int    `json:"port"`
		WSSPort int    `json:"wss_port"`
		WSPort  int    `json:"ws_port"`
	} `json:"host_list"`
}
