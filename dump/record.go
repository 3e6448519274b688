// Package dump records the commands of many rooms: a queueing Handler feeds
// Records to a Sink (daily JSONL files, PostgreSQL, or both), rotated files
// are archived to S3, and a Supervisor keeps one client per listed room.
package dump

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	blivedm "github.com/c-basalt/blivedm-dump"
)

// Record is one dumped command.
type Record struct {
	RoomID  int64
	Tag     string
	Time    time.Time
	Payload json.RawMessage
}

// NewRecord builds a Record from a command received in room at t.
func NewRecord(room int64, cmd blivedm.Command, t time.Time) (Record, error) {
	payload := cmd.Raw()
	if payload == nil {
		var err error
		if payload, err = json.Marshal(cmd.Payload); err != nil {
			return Record{}, err
		}
	}
	return Record{RoomID: room, Tag: cmd.Tag, Time: t, Payload: payload}, nil
}

// MarshalJSON encodes the record as [tag, unix seconds, payload].
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.encode(&buf); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// encode writes the record as one JSON line, without escaping HTML.
func (r Record) encode(buf *bytes.Buffer) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	ts := float64(r.Time.UnixMicro()) / 1e6
	return enc.Encode([]any{r.Tag, ts, r.Payload})
}

// Sink stores records. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}
