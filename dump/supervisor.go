package dump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/internal/logging"
)

// Supervisor defaults.
const (
	DefaultReloadInterval = 60 * time.Second
	DefaultStopTimeout    = 15 * time.Second
)

// ClientFactory builds the client for a room. Guest clients are expected to
// connect without credentials.
type ClientFactory func(room int64, guest bool) (*blivedm.Client, error)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	NewClient ClientFactory

	// Handler receives the commands of the regular clients.
	Handler blivedm.Handler

	// GuestHandler, if set, enables one extra guest client per room.
	GuestHandler blivedm.Handler

	// StopTimeout bounds the shutdown of all clients in Run.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// RoomStatus is a snapshot of one supervised room.
type RoomStatus struct {
	RoomID     int64  `json:"room_id"`
	Canonical  int64  `json:"canonical_room_id,omitempty"`
	State      string `json:"state"`
	RetryCount uint32 `json:"retry_count"`
	GuestState string `json:"guest_state,omitempty"`
}

type roomClients struct {
	login *blivedm.Client
	guest *blivedm.Client
}

func (rc *roomClients) clients() []*blivedm.Client {
	if rc.guest == nil {
		return []*blivedm.Client{rc.login}
	}
	return []*blivedm.Client{rc.login, rc.guest}
}

// Supervisor keeps exactly one client (plus an optional guest client) running
// for every room in the wanted list.
type Supervisor struct {
	cfg SupervisorConfig
	log *slog.Logger

	mu    sync.Mutex
	rooms map[int64]*roomClients
}

// NewSupervisor creates a supervisor with no rooms.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.NewClient == nil || cfg.Handler == nil {
		return nil, errors.New("NewClient and Handler are required")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Supervisor{
		cfg:   cfg,
		log:   log,
		rooms: make(map[int64]*roomClients),
	}, nil
}

// Reconcile starts clients for rooms in want that have none and stops the
// clients of rooms no longer wanted. Removed rooms are stopped in parallel.
func (s *Supervisor) Reconcile(ctx context.Context, want []int64) error {
	wanted := make(map[int64]bool, len(want))
	for _, id := range want {
		wanted[id] = true
	}

	var (
		errs   []error
		remove []*roomClients
	)
	s.mu.Lock()
	for id, rc := range s.rooms {
		if !wanted[id] {
			s.log.Info("stopping room", "room", id)
			remove = append(remove, rc)
			delete(s.rooms, id)
		}
	}
	for _, id := range want {
		if _, ok := s.rooms[id]; ok {
			continue
		}
		rc, err := s.start(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("room %d: %w", id, err))
			continue
		}
		s.rooms[id] = rc
	}
	s.mu.Unlock()

	if err := stopClients(ctx, remove); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Supervisor) start(id int64) (*roomClients, error) {
	s.log.Info("starting room", "room", id)
	login, err := s.newClient(id, false, s.cfg.Handler)
	if err != nil {
		return nil, err
	}
	rc := &roomClients{login: login}

	if s.cfg.GuestHandler != nil {
		s.log.Info("starting guest room", "room", id)
		guest, err := s.newClient(id, true, s.cfg.GuestHandler)
		if err != nil {
			_ = login.StopAndClose(context.Background())
			return nil, err
		}
		rc.guest = guest
	}
	return rc, nil
}

func (s *Supervisor) newClient(id int64, guest bool, h blivedm.Handler) (*blivedm.Client, error) {
	c, err := s.cfg.NewClient(id, guest)
	if err != nil {
		return nil, err
	}
	c.SetHandler(h)
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

func stopClients(ctx context.Context, rooms []*roomClients) error {
	var g errgroup.Group
	for _, rc := range rooms {
		for _, c := range rc.clients() {
			c := c
			g.Go(func() error {
				return c.StopAndClose(ctx)
			})
		}
	}
	return g.Wait()
}

// Rooms returns the status of every supervised room, sorted by room id.
func (s *Supervisor) Rooms() []RoomStatus {
	s.mu.Lock()
	out := make([]RoomStatus, 0, len(s.rooms))
	for id, rc := range s.rooms {
		st := RoomStatus{
			RoomID:     id,
			Canonical:  rc.login.RoomID(),
			State:      rc.login.State().String(),
			RetryCount: rc.login.RetryCount(),
		}
		if rc.guest != nil {
			st.GuestState = rc.guest.State().String()
		}
		out = append(out, st)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b RoomStatus) int {
		switch {
		case a.RoomID < b.RoomID:
			return -1
		case a.RoomID > b.RoomID:
			return 1
		}
		return 0
	})
	return out
}

// Shutdown stops every client.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	all := make([]*roomClients, 0, len(s.rooms))
	for id, rc := range s.rooms {
		all = append(all, rc)
		delete(s.rooms, id)
	}
	s.mu.Unlock()
	return stopClients(ctx, all)
}

// Run reloads the room list file every interval and reconciles against it
// until ctx is done, then shuts all clients down.
func (s *Supervisor) Run(ctx context.Context, roomFile string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.reload(ctx, roomFile)
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
			defer cancel()
			return s.Shutdown(sctx)
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) reload(ctx context.Context, roomFile string) {
	ids, err := LoadRoomIDs(roomFile)
	if err != nil {
		s.log.Error("error while loading rooms", "path", roomFile, "error", err)
		return
	}
	if err := s.Reconcile(ctx, ids); err != nil {
		s.log.Error("error while reconciling rooms", "error", err)
	}
	s.log.Info("running rooms", "count", len(ids))
}

// LoadRoomIDs reads whitespace-separated room ids. Tokens that are not
// integers are skipped; the result is sorted and unique.
func LoadRoomIDs(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, tok := range strings.Fields(string(data)) {
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}
