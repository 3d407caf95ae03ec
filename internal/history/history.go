// Package history stores completed scans in Postgres.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
)

// ErrNoDSN is returned by Open when the connection string is empty.
var ErrNoDSN = errors.New("history: database url is empty")

const schema = `
create table if not exists scans (
  id          text primary key,
  source      text not null default '',
  crop_x      integer not null,
  crop_y      integer not null,
  crop_width  integer not null,
  crop_height integer not null,
  ocr_status  text not null default '',
  refined     boolean not null default false,
  refine_error text not null default '',
  duration_ms bigint not null default 0,
  started_at  timestamptz not null,
  created_at  timestamptz not null default now()
);
create table if not exists scan_records (
  scan_id     text not null references scans(id) on delete cascade,
  position    integer not null,
  record_id   text not null,
  code        text not null,
  size        text not null,
  description text not null,
  quantity    text not null default '',
  primary key (scan_id, position)
);
create index if not exists scans_started_at_idx on scans (started_at desc);`

// PostgresSink persists scan results. It implements pipeline.ResultSink.
type PostgresSink struct{ DB *sql.DB }

// NewPostgresSink wraps an open database.
func NewPostgresSink(db *sql.DB) *PostgresSink { return &PostgresSink{DB: db} }

// Open connects to dsn with the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping %s: %w", SafeDSN(dsn), err)
	}
	return NewPostgresSink(db), nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Save writes one scan and its records in a single transaction.
func (s *PostgresSink) Save(ctx context.Context, res *pipeline.ScanResult) (err error) {
	if res == nil {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const qScan = `
insert into scans (id, source, crop_x, crop_y, crop_width, crop_height,
  ocr_status, refined, refine_error, duration_ms, started_at)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
on conflict (id) do nothing`
	if _, err = tx.ExecContext(ctx, qScan,
		res.ID, res.Source, res.Crop.X, res.Crop.Y, res.Crop.Width, res.Crop.Height,
		string(res.OCRStatus), res.Refined, res.RefineError,
		res.Timings.Total.Milliseconds(), res.StartedAt,
	); err != nil {
		return fmt.Errorf("history: insert scan: %w", err)
	}

	const qRecord = `
insert into scan_records (scan_id, position, record_id, code, size, description, quantity)
values ($1,$2,$3,$4,$5,$6,$7)
on conflict (scan_id, position) do nothing`
	for i, r := range res.Records {
		if _, err = tx.ExecContext(ctx, qRecord, res.ID, i, r.ID, r.Code, r.Size, r.Description, r.Quantity); err != nil {
			return fmt.Errorf("history: insert record %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// Entry is a stored scan.
type Entry struct {
	ID        string
	Source    string
	OCRStatus string
	Refined   bool
	StartedAt time.Time
	Records   []parser.SignRecord
}

// Recent returns the latest scans, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
select id, source, ocr_status, refined, started_at
from scans
order by started_at desc
limit $1`
	rows, err := s.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Source, &e.OCRStatus, &e.Refined, &e.StartedAt); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		recs, err := s.records(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Records = recs
	}
	return out, nil
}

func (s *PostgresSink) records(ctx context.Context, scanID string) ([]parser.SignRecord, error) {
	const q = `
select record_id, code, size, description, quantity
from scan_records
where scan_id = $1
order by position`
	rows, err := s.DB.QueryContext(ctx, q, scanID)
	if err != nil {
		return nil, fmt.Errorf("history: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recs := []parser.SignRecord{}
	for rows.Next() {
		var r parser.SignRecord
		if err := rows.Scan(&r.ID, &r.Code, &r.Size, &r.Description, &r.Quantity); err != nil {
			return nil, fmt.Errorf("history: scan record: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Close closes the database.
func (s *PostgresSink) Close() error {
	return s.DB.Close()
}

// SafeDSN strips credentials from a URL-style connection string for logging.
func SafeDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "postgres"
	}
	return u.Host + u.Path
}
