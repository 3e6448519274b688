package dump

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"
)

// DefaultTable is the table PostgresSink writes to.
const DefaultTable = "danmaku"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresSink inserts records into a table
// (room_id, tag, received_at, payload jsonb).
type PostgresSink struct {
	db     *sql.DB
	insert string
}

// OpenPostgres opens a database handle with the lib/pq driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewPostgresSink creates table if needed and returns a sink writing to it.
// The sink does not own db.
func NewPostgresSink(ctx context.Context, db *sql.DB, table string) (*PostgresSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	create, insert := tableStatements(table)
	if _, err := db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return &PostgresSink{db: db, insert: insert}, nil
}

func tableStatements(table string) (create, insert string) {
	q := pq.QuoteIdentifier(table)
	create = `CREATE TABLE IF NOT EXISTS ` + q + ` (
	id          BIGSERIAL PRIMARY KEY,
	room_id     BIGINT      NOT NULL,
	tag         TEXT        NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	payload     JSONB       NOT NULL
)`
	insert = `INSERT INTO ` + q + ` (room_id, tag, received_at, payload) VALUES ($1, $2, $3, $4)`
	return create, insert
}

func (s *PostgresSink) Write(ctx context.Context, r Record) error {
	if _, err := s.db.ExecContext(ctx, s.insert, r.RoomID, r.Tag, r.Time, []byte(r.Payload)); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Close is a no-op; the caller closes the database handle.
func (s *PostgresSink) Close() error {
	return nil
}
