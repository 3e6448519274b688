package dump

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket, key, contentType string
	body                     string
}

type fakePutter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		body:        string(body),
	})
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) snapshot() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]putCall(nil), f.calls...)
}

func writeDumpFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestArchiver_Archive(t *testing.T) {
	putter := &fakePutter{}
	a := NewArchiver(putter, ArchiveConfig{Bucket: "dumps", Prefix: "danmaku/", RemoveLocal: true})
	path := writeDumpFile(t, "1-240309.jsonl", "[\"A\",1,{}]\n")

	require.NoError(t, a.Archive(context.Background(), path))

	calls := putter.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, putCall{
		bucket:      "dumps",
		key:         "danmaku/1-240309.jsonl",
		contentType: "application/x-ndjson",
		body:        "[\"A\",1,{}]\n",
	}, calls[0])
	assert.NoFileExists(t, path)
}

func TestArchiver_UploadFailureKeepsFile(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	a := NewArchiver(putter, ArchiveConfig{Bucket: "dumps", RemoveLocal: true})
	path := writeDumpFile(t, "2-240309.jsonl", "x\n")

	assert.ErrorContains(t, a.Archive(context.Background(), path), "access denied")
	assert.FileExists(t, path)
}

func TestArchiver_RunDrainsOnCancel(t *testing.T) {
	putter := &fakePutter{}
	a := NewArchiver(putter, ArchiveConfig{Bucket: "dumps"})
	first := writeDumpFile(t, "1-240309.jsonl", "a\n")
	second := writeDumpFile(t, "2-240309.jsonl", "b\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Submit(first)
	require.Eventually(t, func() bool { return len(putter.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	a.Submit(second)
	cancel()
	require.NoError(t, <-done)

	calls := putter.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "1-240309.jsonl", calls[0].key)
	assert.Equal(t, "2-240309.jsonl", calls[1].key)
}

func TestArchiver_SubmitFullQueue(t *testing.T) {
	a := NewArchiver(&fakePutter{}, ArchiveConfig{Bucket: "dumps", QueueSize: 1})
	a.Submit("a")
	a.Submit("b") // dropped, must not block
	assert.Len(t, a.queue, 1)
}
