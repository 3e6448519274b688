package dump

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/c-basalt/blivedm-dump/internal/logging"
)

// ObjectPutter is the part of *s3.Client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveConfig configures an Archiver.
type ArchiveConfig struct {
	Bucket string
	Prefix string // key prefix, e.g. "danmaku/"

	// RemoveLocal deletes a file once it is uploaded.
	RemoveLocal bool

	// QueueSize bounds the files waiting for upload (default 64).
	QueueSize int

	Logger *slog.Logger
}

// Archiver uploads rotated dump files to S3. Submit is safe to call from
// FileConfig.OnRotate; uploads happen in Run.
type Archiver struct {
	client ObjectPutter
	cfg    ArchiveConfig
	log    *slog.Logger
	queue  chan string
}

// NewArchiver creates an archiver writing to cfg.Bucket.
func NewArchiver(client ObjectPutter, cfg ArchiveConfig) *Archiver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Archiver{
		client: client,
		cfg:    cfg,
		log:    log.With("bucket", cfg.Bucket),
		queue:  make(chan string, cfg.QueueSize),
	}
}

// Submit queues path for upload. When the queue is full the file is left on
// disk and a warning is logged.
func (a *Archiver) Submit(path string) {
	select {
	case a.queue <- path:
	default:
		a.log.Warn("archive queue full, leaving file on disk", "path", path)
	}
}

// Run uploads queued files until ctx is done, then uploads what is still
// queued with a fresh context.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case path := <-a.queue:
			a.upload(ctx, path)
		case <-ctx.Done():
			a.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (a *Archiver) drain(ctx context.Context) {
	for {
		select {
		case path := <-a.queue:
			a.upload(ctx, path)
		default:
			return
		}
	}
}

func (a *Archiver) upload(ctx context.Context, path string) {
	if err := a.Archive(ctx, path); err != nil {
		a.log.Error("archive failed", "path", path, "error", err)
	}
}

// Archive uploads one file as <prefix><basename>.
func (a *Archiver) Archive(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	key := a.cfg.Prefix + filepath.Base(path)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	a.log.Info("archived dump file", "path", path, "key", key)

	if a.cfg.RemoveLocal {
		f.Close()
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove archived file: %w", err)
		}
	}
	return nil
}
