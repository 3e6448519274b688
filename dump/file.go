package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/c-basalt/blivedm-dump/internal/logging"
)

// DefaultIdleTimeout is how long a room file stays open without writes.
const DefaultIdleTimeout = 5 * time.Minute

// FileConfig configures a FileSink.
type FileConfig struct {
	// Dir is where files are created. Defaults to the working directory.
	Dir string

	// Prefix is prepended to every file name, e.g. "guest-".
	Prefix string

	// IdleTimeout closes a room's file after this long without records.
	IdleTimeout time.Duration

	// OnRotate is called with the path of a file that will not be written
	// again because its day has passed. It must not block.
	OnRotate func(path string)

	Logger *slog.Logger
}

// FileSink appends records to one JSONL file per room and UTC day, named
// <prefix><room>-<yymmdd>.jsonl.
type FileSink struct {
	cfg FileConfig
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	rooms  map[int64]*roomFile
	closed bool

	stop chan struct{}
	done chan struct{}
}

type roomFile struct {
	f         *os.File
	path      string
	lastPath  string // most recent file of this room, open or not
	lastWrite time.Time
}

// NewFileSink creates the sink and starts its idle janitor.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	return newFileSink(cfg, time.Now)
}

func newFileSink(cfg FileConfig, now func() time.Time) (*FileSink, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	s := &FileSink{
		cfg:   cfg,
		log:   log,
		now:   now,
		rooms: make(map[int64]*roomFile),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.janitor()
	return s, nil
}

// FileName returns the file name for room on the UTC day of t.
func (s *FileSink) FileName(room int64, t time.Time) string {
	return s.cfg.Prefix + strconv.FormatInt(room, 10) + "-" + t.UTC().Format("060102") + ".jsonl"
}

func (s *FileSink) Write(ctx context.Context, r Record) error {
	var buf bytes.Buffer
	if err := r.encode(&buf); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("file sink is closed")
	}

	now := s.now()
	rf := s.rooms[r.RoomID]
	if rf == nil {
		rf = &roomFile{}
		s.rooms[r.RoomID] = rf
	}

	path := filepath.Join(s.cfg.Dir, s.FileName(r.RoomID, now))
	if rf.path != path {
		if err := s.reopen(rf, path); err != nil {
			return err
		}
	}
	rf.lastWrite = now

	if _, err := rf.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", rf.path, err)
	}
	return nil
}

// reopen switches rf to path, reporting the previous file as rotated when the
// day changed.
func (s *FileSink) reopen(rf *roomFile, path string) error {
	if rf.f != nil {
		s.closeFile(rf)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if rf.lastPath != "" && rf.lastPath != path && s.cfg.OnRotate != nil {
		s.cfg.OnRotate(rf.lastPath)
	}
	rf.f = f
	rf.path = path
	rf.lastPath = path
	return nil
}

func (s *FileSink) closeFile(rf *roomFile) {
	if err := rf.f.Close(); err != nil {
		s.log.Warn("close dump file", "path", rf.path, "error", err)
	}
	rf.f = nil
	rf.path = ""
}

// closeIdle closes files without writes since before cutoff.
func (s *FileSink) closeIdle(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rf := range s.rooms {
		if rf.f != nil && rf.lastWrite.Before(cutoff) {
			s.log.Debug("closing idle dump file", "path", rf.path)
			s.closeFile(rf)
		}
	}
}

func (s *FileSink) janitor() {
	defer close(s.done)

	interval := s.cfg.IdleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.closeIdle(s.now().Add(-s.cfg.IdleTimeout))
		}
	}
}

// Close closes all open files. Files are not reported as rotated.
func (s *FileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var errs []error
	for _, rf := range s.rooms {
		if rf.f != nil {
			errs = append(errs, rf.f.Close())
			rf.f = nil
		}
	}
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	return errors.Join(errs...)
}
