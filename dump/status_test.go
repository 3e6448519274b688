package dump

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c-basalt/blivedm-dump/metrics"
)

func TestStatusRouter(t *testing.T) {
	s, _ := newTestSupervisor(t, false)
	require.NoError(t, s.Reconcile(context.Background(), []int64{42}))

	reg := prometheus.NewRegistry()
	metrics.New(metrics.WithRegistry(reg)).CommandDispatched("DANMU_MSG")

	srv := httptest.NewServer(NewStatusRouter(s, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/rooms")
	require.NoError(t, err)
	var rooms []RoomStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	resp.Body.Close()
	require.Len(t, rooms, 1)
	assert.Equal(t, int64(42), rooms[0].RoomID)
	assert.NotEmpty(t, rooms[0].State)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `blivedm_commands_total{tag="DANMU_MSG"} 1`)
}

func TestStatusRouter_NoMetrics(t *testing.T) {
	s, _ := newTestSupervisor(t, false)
	srv := httptest.NewServer(NewStatusRouter(s, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
