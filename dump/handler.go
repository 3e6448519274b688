package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/internal/logging"
)

// DefaultQueueSize is the number of records a Handler buffers before Handle
// blocks the client.
const DefaultQueueSize = 4096

// Restart backoff defaults. A client that keeps failing its bootstrap is
// restarted no faster than this.
const (
	DefaultRestartDelay    = 5 * time.Second
	DefaultMaxRestartDelay = 5 * time.Minute
)

// echoTags are printed to HandlerConfig.Echo.
var echoTags = map[string]bool{
	"DANMU_MSG":     true,
	"LOG_IN_NOTICE": true,
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	QueueSize int

	// Echo receives a short line for chat messages and notices. Optional.
	Echo io.Writer

	// Restart resumes a client stopped by an error (default true).
	Restart *bool

	// RestartDelay is the wait before the first restart of a client; it
	// doubles per consecutive failure up to MaxRestartDelay. A command
	// received from the client resets it.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	Logger *slog.Logger
}

// Handler is a blivedm.Handler that queues every command as a Record and
// writes the queue to a Sink on its own goroutine, so disk or database
// latency never stalls the receive loop until the queue is full.
type Handler struct {
	sink    Sink
	echo    io.Writer
	restart bool
	log     *slog.Logger
	now     func() time.Time

	queue     chan Record
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	written atomic.Int64
	failed  atomic.Int64

	backoff  *blivedm.FailoverPolicy
	restarts sync.Map   // *blivedm.Client -> *restartState
	mu       sync.Mutex // guards restartState.timer
}

type restartState struct {
	attempts atomic.Uint32
	timer    *time.Timer
}

// NewHandler starts a handler writing to sink.
func NewHandler(sink Sink, cfg HandlerConfig) *Handler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = DefaultMaxRestartDelay
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	h := &Handler{
		sink:    sink,
		echo:    cfg.Echo,
		restart: cfg.Restart == nil || *cfg.Restart,
		log:     log,
		now:     time.Now,
		queue:   make(chan Record, cfg.QueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		backoff: blivedm.NewFailoverPolicy(cfg.RestartDelay, cfg.MaxRestartDelay, blivedm.DefaultJitterFraction),
	}
	go h.dispatch()
	return h
}

// Handle implements blivedm.Handler.
func (h *Handler) Handle(c *blivedm.Client, cmd blivedm.Command) {
	if v, ok := h.restarts.Load(c); ok {
		v.(*restartState).attempts.Store(0)
	}
	h.enqueue(c.RoomID(), cmd)
}

func (h *Handler) enqueue(room int64, cmd blivedm.Command) {
	rec, err := NewRecord(room, cmd, h.now())
	if err != nil {
		h.log.Warn("cannot encode command", "room", room, "tag", cmd.Tag, "error", err)
		return
	}

	if h.echo != nil && echoTags[cmd.Tag] {
		h.printEcho(room, cmd)
	}

	select {
	case h.queue <- rec:
	case <-h.closing:
	}
}

func (h *Handler) printEcho(room int64, cmd blivedm.Command) {
	var text string
	if info, ok := cmd.Payload["info"].([]any); ok && len(info) > 1 {
		text = fmt.Sprint(info[1:])
	} else {
		text = string(cmd.Raw())
	}
	if len(text) > 150 {
		text = text[:150]
	}
	fmt.Fprintln(h.echo, room, cmd.Tag, text)
}

// OnStoppedByException implements blivedm.Handler: the error is logged and
// the client restarted after a backoff that grows while it keeps failing.
func (h *Handler) OnStoppedByException(c *blivedm.Client, err error) {
	h.log.Error("client exited with error", "room", c.RoomID(), "client", c.ID(), "error", err)
	if !h.restart {
		return
	}

	v, _ := h.restarts.LoadOrStore(c, &restartState{})
	st := v.(*restartState)
	delay := h.backoff.Backoff(st.attempts.Add(1) - 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closing:
		return
	default:
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(delay, func() { h.restartClient(c) })
	h.log.Info("client restart scheduled", "client", c.ID(), "delay", delay)
}

func (h *Handler) restartClient(c *blivedm.Client) {
	select {
	case <-h.closing:
		return
	default:
	}
	if err := c.Start(); err != nil {
		h.log.Warn("cannot restart client", "client", c.ID(), "error", err)
		if errors.Is(err, blivedm.ErrClientClosed) {
			h.restarts.Delete(c)
		}
	}
}

func (h *Handler) dispatch() {
	defer close(h.done)
	for {
		select {
		case rec := <-h.queue:
			h.write(rec)
		case <-h.closing:
			for {
				select {
				case rec := <-h.queue:
					h.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) write(rec Record) {
	if err := h.sink.Write(context.Background(), rec); err != nil {
		h.failed.Add(1)
		h.log.Error("failed to write record", "room", rec.RoomID, "tag", rec.Tag, "error", err)
		return
	}
	h.written.Add(1)
}

// Stats returns the number of records written and failed so far.
func (h *Handler) Stats() (written, failed int64) {
	return h.written.Load(), h.failed.Load()
}

// Close stops accepting records, cancels pending restarts and waits until
// the queue is written out or ctx is done. It does not close the sink.
func (h *Handler) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.closing)
		h.restarts.Range(func(_, v any) bool {
			if t := v.(*restartState).timer; t != nil {
				t.Stop()
			}
			return true
		})
		h.mu.Unlock()
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ blivedm.Handler = (*Handler)(nil)
