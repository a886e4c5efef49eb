package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteWriter stores every report as a crawl row plus one page row per
// record.
type SQLiteWriter struct {
	db   *sql.DB
	path string
}

// NewSQLiteWriter opens or creates the database at path.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	w := &SQLiteWriter{db: db, path: path}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := w.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return w, nil
}

func (w *SQLiteWriter) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_url TEXT,
		urls_crawled INTEGER NOT NULL,
		max_depth INTEGER NOT NULL,
		interrupted INTEGER NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id INTEGER NOT NULL REFERENCES crawls(id),
		position INTEGER NOT NULL,
		url TEXT NOT NULL,
		title TEXT,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pages_crawl ON pages(crawl_id);
	CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);
	`
	_, err := w.db.ExecContext(context.Background(), schema)
	return err
}

// Write stores report in one transaction and returns "<path>#<crawl id>".
func (w *SQLiteWriter) Write(ctx context.Context, report *Report) (string, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m := report.Metadata
	res, err := tx.ExecContext(ctx,
		`INSERT INTO crawls (start_url, urls_crawled, max_depth, interrupted, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.StartURL, m.URLsCrawled, m.MaxDepth, m.Interrupted, m.Timestamp)
	if err != nil {
		return "", fmt.Errorf("insert crawl: %w", err)
	}
	crawlID, err := res.LastInsertId()
	if err != nil {
		return "", err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pages (crawl_id, position, url, title, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare page insert: %w", err)
	}
	defer stmt.Close()

	for i, record := range report.Data {
		data, err := json.Marshal(record)
		if err != nil {
			return "", fmt.Errorf("failed to serialize record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, crawlID, i, record.URL(), record.Title(), string(data)); err != nil {
			return "", fmt.Errorf("insert page: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return fmt.Sprintf("%s#%d", w.path, crawlID), nil
}

// Close closes the database connection.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
