package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/ports"
)

const (
	announcementsTable = "announcements"
	// keeps each INSERT well under SQLite's bound-parameter limit
	insertBatchSize = 200
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS announcements (
	source            TEXT    NOT NULL,
	position          INTEGER NOT NULL,
	title             TEXT    NOT NULL,
	announcement_date TEXT    NOT NULL,
	sec_code          TEXT    NOT NULL,
	sec_name          TEXT    NOT NULL,
	file_link         TEXT    NOT NULL,
	saved_at          DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (source, position)
)`,
	`CREATE INDEX IF NOT EXISTS idx_announcements_key ON announcements (sec_code, announcement_date)`,
}

var announcementColumns = []string{
	"source", "position", "title", "announcement_date", "sec_code", "sec_name", "file_link",
}

// SQLiteStore persists per-source snapshots into a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.SnapshotStore = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) the snapshot database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create snapshot schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot of c.Source with c, atomically.
func (s *SQLiteStore) Save(ctx context.Context, c domain.Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := sq.Delete(announcementsTable).Where(sq.Eq{"source": string(c.Source)}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear snapshot %s: %w", c.Source, err)
	}

	for start := 0; start < len(c.Records); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(c.Records) {
			end = len(c.Records)
		}

		insert := sq.Insert(announcementsTable).Columns(announcementColumns...)
		for i, rec := range c.Records[start:end] {
			insert = insert.Values(
				string(c.Source),
				start+i,
				rec.Title,
				rec.Date.Format(domain.DateLayout),
				rec.SecCode,
				rec.SecName,
				rec.FileLink,
			)
		}

		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert snapshot %s rows %d-%d: %w", c.Source, start, end, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", c.Source, err)
	}
	return nil
}

// Load returns the stored snapshot of a source in harvest order. A source
// never saved yields an empty collection.
func (s *SQLiteStore) Load(ctx context.Context, id domain.SourceID) (domain.Collection, error) {
	query, args, err := sq.Select("title", "announcement_date", "sec_code", "sec_name", "file_link").
		From(announcementsTable).
		Where(sq.Eq{"source": string(id)}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return domain.Collection{}, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("query snapshot %s: %w", id, err)
	}

	var records []domain.Announcement
	for rows.Next() {
		var (
			rec  domain.Announcement
			date string
		)
		if err := rows.Scan(&rec.Title, &date, &rec.SecCode, &rec.SecName, &rec.FileLink); err != nil {
			_ = rows.Close()
			return domain.Collection{}, fmt.Errorf("scan snapshot row: %w", err)
		}
		rec.Date, err = domain.ParseDate(date)
		if err != nil {
			_ = rows.Close()
			return domain.Collection{}, fmt.Errorf("snapshot %s: %w", id, err)
		}
		rec.Source = id
		records = append(records, rec)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return domain.Collection{}, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return domain.Collection{}, fmt.Errorf("close rows: %w", closeErr)
	}

	return domain.NewCollection(id, records), nil
}
