package blivedm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// teardownTimeout bounds the best-effort session teardown in StopAndClose.
const teardownTimeout = 10 * time.Second

// Client maintains the connection to one room and hands its commands to the
// registered handlers.
type Client struct {
	cfg     Config
	boot    Bootstrap
	policy  *FailoverPolicy
	dial    dialFunc
	log     *slog.Logger
	metrics Metrics
	id      string

	handlers handlerList

	mu         sync.Mutex
	state      ConnectionState
	retryCount uint32
	info       *RoomInfo
	running    bool
	stopping   bool // Stop was called on the current run
	closed     bool
	tornDown   bool
	cancel     context.CancelFunc
	done       chan struct{}
	stateFn    func(StateEvent)
}

// NewClient creates a client for the room resolved by boot. The client does
// nothing until Start is called.
func NewClient(cfg Config, boot Bootstrap) (*Client, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	if boot == nil {
		return nil, errors.New("Bootstrap must not be nil")
	}

	id := generateID()
	return &Client{
		cfg:     resolved,
		boot:    boot,
		policy:  NewFailoverPolicy(resolved.ReconnectDelay, resolved.MaxReconnectDelay, resolved.JitterFraction),
		dial:    newWebSocketDialer(resolved.HandshakeTimeout),
		log:     resolved.Logger.With("client", id),
		metrics: resolved.Metrics,
		id:      id,
	}, nil
}

// SetHandler replaces all registered handlers with h.
func (c *Client) SetHandler(h Handler) {
	c.handlers.set(h)
}

// AddHandler appends h; handlers are called in registration order.
func (c *Client) AddHandler(h Handler) {
	c.handlers.add(h)
}

// OnStateChange registers a callback invoked after every state transition.
// It runs on the client's goroutine and must not block.
func (c *Client) OnStateChange(fn func(StateEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFn = fn
}

// ID returns the unique ID of this client instance, used in logs.
func (c *Client) ID() string {
	return c.id
}

// RoomID returns the canonical room ID, or 0 before the room is bootstrapped.
func (c *Client) RoomID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return 0
	}
	return c.info.RoomID
}

// OwnerUID returns the UID of the room owner, or 0 before the room is
// bootstrapped.
func (c *Client) OwnerUID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return 0
	}
	return c.info.OwnerUID
}

// RoomInfo returns the cached bootstrap result, or nil.
func (c *Client) RoomInfo() *RoomInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// IsRunning reports whether the connection goroutine is alive.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount returns the number of consecutive failed connect attempts.
func (c *Client) RetryCount() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Start spawns the connection goroutine. Calling Start on a running client
// does nothing. Between Stop and the end of that run, Start returns
// ErrClientStopping; Join first to restart.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.stopping {
		return ErrClientStopping
	}
	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.done = done

	go c.run(ctx, cancel, done)
	return nil
}

// Stop asks the connection goroutine to exit. It returns immediately; use
// Join to wait.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.stopping = true
		c.cancel()
	}
}

// Join waits until the current run has fully terminated or ctx is done.
func (c *Client) Join(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the client and makes it unusable. It does not wait.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.running {
		c.log.Warn("Close called while client is running")
		c.cancel()
	}
	return nil
}

// StopAndClose stops the client, waits for it, releases the bootstrap's
// server-side session and closes the client. Teardown failures are logged,
// never returned.
func (c *Client) StopAndClose(ctx context.Context) error {
	c.Stop()
	err := c.Join(ctx)

	c.mu.Lock()
	info := c.info
	tornDown := c.tornDown
	c.tornDown = true
	c.mu.Unlock()

	if info != nil && !tornDown {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		if terr := c.boot.Teardown(tctx, info); terr != nil {
			c.log.Warn("bootstrap teardown failed", "room", info.RoomID, "error", terr)
		}
		cancel()
	}

	_ = c.Close()
	return err
}

// setState moves the client to state to. Entering Open resets the retry
// count; entering Reconnecting increments it.
func (c *Client) setState(to ConnectionState, cause error) StateEvent {
	c.mu.Lock()
	ev := c.transitionLocked(to, cause)
	fn := c.stateFn
	c.mu.Unlock()

	c.emit(ev, fn)
	return ev
}

func (c *Client) transitionLocked(to ConnectionState, cause error) StateEvent {
	switch to {
	case StateOpen:
		c.retryCount = 0
	case StateReconnecting:
		c.retryCount++
	}
	ev := StateEvent{Old: c.state, New: to, RetryCount: c.retryCount, Err: cause}
	c.state = to
	return ev
}

func (c *Client) emit(ev StateEvent, fn func(StateEvent)) {
	if ev.Old == ev.New {
		return
	}
	c.metrics.StateChanged(ev.Old, ev.New)
	if fn != nil {
		fn(ev)
	}
}

func (c *Client) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	var keepalive sync.WaitGroup

	if c.State() == StateClosed {
		c.setState(StateIdle, nil)
	}
	err := c.loop(ctx, &keepalive)

	cancel()
	keepalive.Wait()

	c.mu.Lock()
	c.running = false
	c.stopping = false
	c.cancel = nil
	ev := c.transitionLocked(StateClosed, err)
	fn := c.stateFn
	c.mu.Unlock()
	c.emit(ev, fn)

	if err != nil {
		c.log.Error("client stopped by error", "error", err)
		for _, h := range c.handlers.snapshot() {
			c.callStopped(h, err)
		}
	} else {
		c.log.Info("client stopped")
	}
	close(done)
}

// loop runs connect attempts until ctx is cancelled or the bootstrap fails.
func (c *Client) loop(ctx context.Context, keepalive *sync.WaitGroup) error {
	keepaliveStarted := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		c.setState(StateConnecting, nil)

		info, err := c.bootstrap(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &InitError{Cause: err}
		}
		if !keepaliveStarted {
			keepaliveStarted = true
			if iv := c.boot.KeepaliveInterval(); iv > 0 {
				keepalive.Add(1)
				go c.keepaliveLoop(ctx, info, iv, keepalive)
			}
		}

		url := c.policy.SelectHost(info.HostCandidates, c.RetryCount())
		err = c.connect(ctx, info, url)
		if ctx.Err() != nil {
			return nil
		}

		ev := c.setState(StateReconnecting, err)
		// RetryCount is at least 1 here; the first failure waits the initial delay.
		delay := c.policy.Backoff(ev.RetryCount - 1)
		c.log.Warn("connection failed, reconnecting",
			"room", info.RoomID, "url", url, "retry", ev.RetryCount, "delay", delay, "error", err)

		if !sleepContext(ctx, delay) {
			return nil
		}
	}
}

// bootstrap returns the cached room info, running the Bootstrap on first use.
func (c *Client) bootstrap(ctx context.Context) (*RoomInfo, error) {
	c.mu.Lock()
	info := c.info
	c.mu.Unlock()
	if info != nil {
		return info, nil
	}

	info, err := c.boot.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	if info == nil || len(info.HostCandidates) == 0 {
		return nil, errors.New("bootstrap returned no host candidates")
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	c.log.Info("room initialized",
		"room", info.RoomID, "owner", info.OwnerUID, "hosts", len(info.HostCandidates), "degraded", info.Degraded)
	return info, nil
}

// connect runs one attempt: dial, authenticate, then stream until the
// connection fails. It always returns a non-nil error.
func (c *Client) connect(ctx context.Context, info *RoomInfo, url string) error {
	c.log.Debug("dialing", "room", info.RoomID, "url", url)

	t, err := c.dial(ctx, url)
	if err != nil {
		err = &ConnectionError{URL: url, Reason: "dial", Cause: err}
		c.metrics.ConnectAttempt(url, err)
		return err
	}
	defer t.close()
	stop := context.AfterFunc(ctx, func() { _ = t.close() })
	defer stop()

	c.setState(StateAuthenticating, nil)
	pending, err := c.authenticate(t, info, url)
	c.metrics.ConnectAttempt(url, err)
	if err != nil {
		return err
	}

	c.setState(StateOpen, nil)
	c.log.Info("connected", "room", info.RoomID, "url", url)

	hb := startHeartbeat(t, c.cfg.HeartbeatInterval, c.log)
	c.handlePackets(pending)
	err = c.receive(t, url)
	hb.stop()
	return err
}

type authReply struct {
	Code *int `json:"code"`
}

// authenticate sends the auth packet and waits for its reply. Packets that
// arrived in the same frame after the reply are returned for processing.
func (c *Client) authenticate(t transport, info *RoomInfo, url string) ([]Packet, error) {
	payload, err := c.boot.AuthPayload(info)
	if err != nil {
		return nil, &ConnectionError{URL: url, Reason: "build auth payload", Cause: err}
	}
	if err := t.writeFrame(EncodePacket(OpAuth, 1, payload)); err != nil {
		return nil, &ConnectionError{URL: url, Reason: "send auth", Cause: err}
	}

	if err := t.setReadDeadline(time.Now().Add(c.cfg.AuthTimeout)); err != nil {
		return nil, &ConnectionError{URL: url, Reason: "set auth deadline", Cause: err}
	}
	for {
		data, err := t.readFrame()
		if err != nil {
			return nil, &ConnectionError{URL: url, Reason: "await auth reply", Cause: err}
		}
		packets, derr := DecodePackets(data)
		if derr != nil {
			c.reportError(derr)
		}
		if len(packets) == 0 {
			continue
		}

		first := packets[0]
		c.metrics.PacketReceived(first.Operation)
		if first.Operation != OpAuthReply {
			return nil, &ConnectionError{URL: url, Reason: fmt.Sprintf("expected auth reply, got %s", first.Operation)}
		}
		var reply authReply
		if err := json.Unmarshal(first.Payload, &reply); err != nil || reply.Code == nil {
			return nil, &ConnectionError{URL: url, Reason: "malformed auth reply", Cause: err}
		}
		if *reply.Code != 0 {
			return nil, &ConnectionError{URL: url, Reason: "auth rejected", Cause: &AuthError{Code: *reply.Code}}
		}

		if err := t.setReadDeadline(time.Time{}); err != nil {
			return nil, &ConnectionError{URL: url, Reason: "clear auth deadline", Cause: err}
		}
		return packets[1:], nil
	}
}

// receive feeds inbound frames to the handlers until the transport fails.
func (c *Client) receive(t transport, url string) error {
	for {
		data, err := t.readFrame()
		if err != nil {
			return &ConnectionError{URL: url, Reason: "read", Cause: err}
		}
		packets, derr := DecodePackets(data)
		if derr != nil {
			c.reportError(derr)
		}
		c.handlePackets(packets)
	}
}

func (c *Client) handlePackets(packets []Packet) {
	for _, p := range packets {
		c.metrics.PacketReceived(p.Operation)

		switch p.Operation {
		case OpHeartbeatReply:
			cmd, ok, err := popularityCommand(p.Payload)
			if err != nil {
				c.reportError(err)
				continue
			}
			if ok {
				c.deliver(cmd)
			}
		case OpMessage:
			cmd, ok, err := Dispatch(p)
			if err != nil {
				c.reportError(err)
				continue
			}
			if ok {
				c.deliver(cmd)
			}
		default:
			c.log.Debug("ignoring packet", "operation", p.Operation, "version", p.Version)
		}
	}
}

func (c *Client) deliver(cmd Command) {
	c.metrics.CommandDispatched(cmd.Tag)
	for _, h := range c.handlers.snapshot() {
		c.callHandler(h, cmd)
	}
}

func (c *Client) callHandler(h Handler, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked", "tag", cmd.Tag, "panic", r)
		}
	}()
	h.Handle(c, cmd)
}

func (c *Client) callStopped(h Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("stop handler panicked", "panic", r)
		}
	}()
	h.OnStoppedByException(c, err)
}

// reportError logs and counts every ProtocolError inside err.
func (c *Client) reportError(err error) {
	for _, e := range flattenErrors(err) {
		var pe *ProtocolError
		if errors.As(e, &pe) {
			c.metrics.ProtocolError(pe.Code)
		}
		c.log.Warn("dropped malformed packet", "error", e)
	}
}

func flattenErrors(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func (c *Client) keepaliveLoop(ctx context.Context, info *RoomInfo, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		kctx, cancel := context.WithTimeout(ctx, interval)
		if err := c.boot.Keepalive(kctx, info); err != nil && ctx.Err() == nil {
			c.log.Warn("bootstrap keepalive failed", "room", info.RoomID, "error", err)
		}
		cancel()
	}
}

// sleepContext waits for d or until ctx is done; it reports whether the full
// delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
