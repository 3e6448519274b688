package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blivedm "github.com/c-basalt/blivedm-dump"
)

func TestCollector_OpenConnectionsGauge(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()))

	c.StateChanged(blivedm.StateIdle, blivedm.StateConnecting)
	c.StateChanged(blivedm.StateConnecting, blivedm.StateAuthenticating)
	c.StateChanged(blivedm.StateAuthenticating, blivedm.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.openConnections))

	c.StateChanged(blivedm.StateOpen, blivedm.StateReconnecting)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.openConnections))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("open", "reconnecting")))
}

func TestCollector_Counters(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()))

	c.ConnectAttempt("wss://a/sub", nil)
	c.ConnectAttempt("wss://b/sub", errors.New("refused"))
	c.ConnectAttempt("wss://b/sub", errors.New("refused"))
	c.PacketReceived(blivedm.OpMessage)
	c.ProtocolError(blivedm.ErrCodeTruncated)
	c.CommandDispatched("DANMU_MSG")
	c.CommandDispatched("DANMU_MSG")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectAttempts.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectAttempts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.packets.WithLabelValues(blivedm.OpMessage.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.protocolErrors.WithLabelValues("truncated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.commands.WithLabelValues("DANMU_MSG")))
}

func TestCollector_NamespaceAndRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegistry(reg), WithNamespace("dump"), WithConstLabels(prometheus.Labels{"instance": "x"}))
	c.CommandDispatched("SEND_GIFT")

	expected := `
# HELP dump_commands_total Commands handed to handlers, by tag
# TYPE dump_commands_total counter
dump_commands_total{instance="x",tag="SEND_GIFT"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "dump_commands_total"))
}
