package blivedm

import (
	"log/slog"
	"sync"
	"time"
)

// heartbeat sends a Heartbeat packet every interval on one transport. It is
// started when the connection enters Open and stopped before it leaves.
// Replies are not awaited: a dead socket shows up as a read error.
type heartbeat struct {
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func startHeartbeat(t transport, interval time.Duration, log *slog.Logger) *heartbeat {
	hb := &heartbeat{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go hb.loop(t, interval, log)
	return hb
}

func (hb *heartbeat) loop(t transport, interval time.Duration, log *slog.Logger) {
	defer close(hb.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	packet := EncodePacket(OpHeartbeat, 1, nil)
	for {
		select {
		case <-hb.stopCh:
			return
		case <-ticker.C:
		}
		// stop may have raced with the tick.
		select {
		case <-hb.stopCh:
			return
		default:
		}
		if err := t.writeFrame(packet); err != nil {
			log.Debug("heartbeat write failed", "error", err)
			return
		}
	}
}

// stop cancels the ticker and waits until no heartbeat can be sent any more.
func (hb *heartbeat) stop() {
	hb.stopOnce.Do(func() { close(hb.stopCh) })
	<-hb.done
}
