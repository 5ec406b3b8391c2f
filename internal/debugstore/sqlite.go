package debugstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS payloads (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence_number INTEGER NOT NULL,
	encoding        TEXT    NOT NULL,
	raw_length      INTEGER NOT NULL,
	payload         BLOB    NOT NULL,
	created_at      INTEGER NOT NULL
)`

// SQLite persists entries to a database file so they survive the process.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open debug store %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init debug store schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO payloads (sequence_number, encoding, raw_length, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.SequenceNumber, entry.Encoding, entry.RawLength, entry.Payload, createdAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("append debug entry %d: %w", entry.SequenceNumber, err)
	}
	return nil
}

func (s *SQLite) Entries() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT sequence_number, encoding, raw_length, payload, created_at FROM payloads ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list debug entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			createdAt int64
		)
		if err := rows.Scan(&e.SequenceNumber, &e.Encoding, &e.RawLength, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan debug entry: %w", err)
		}
		e.CreatedAt = time.UnixMicro(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
