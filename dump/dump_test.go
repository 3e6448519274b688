package dump

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	blivedm "github.com/c-basalt/blivedm-dump"
)

// memSink keeps records in memory.
type memSink struct {
	mu      sync.Mutex
	records []Record
	fail    error
	closed  bool
}

func (m *memSink) Write(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// parkedBootstrap fails its first failFirst Initialize calls, then blocks
// until the client is stopped, so clients sit in Connecting.
type parkedBootstrap struct {
	failFirst int32
	inits     atomic.Int32
}

func (b *parkedBootstrap) Initialize(ctx context.Context) (*blivedm.RoomInfo, error) {
	if n := b.inits.Add(1); n <= b.failFirst {
		return nil, errors.New("room lookup failed")
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *parkedBootstrap) AuthPayload(*blivedm.RoomInfo) ([]byte, error)      { return nil, nil }
func (b *parkedBootstrap) KeepaliveInterval() time.Duration                   { return 0 }
func (b *parkedBootstrap) Keepalive(context.Context, *blivedm.RoomInfo) error { return nil }
func (b *parkedBootstrap) Teardown(context.Context, *blivedm.RoomInfo) error  { return nil }

func newParkedClient(t *testing.T, boot blivedm.Bootstrap) *blivedm.Client {
	t.Helper()
	c, err := blivedm.NewClient(blivedm.Config{}, boot)
	require.NoError(t, err)
	return c
}
