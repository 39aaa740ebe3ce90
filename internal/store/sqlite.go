package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLitePersister keeps the latest value per persisted path in a single
// snapshot table, so room state survives a service restart.
type SQLitePersister struct {
	db *sql.DB
}

var _ Persister = (*SQLitePersister)(nil)

func OpenSQLite(dbPath string) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		path TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshots table: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

func (p *SQLitePersister) Save(path string, value json.RawMessage) error {
	_, err := p.db.Exec(`INSERT INTO snapshots (path, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		path, []byte(value))
	return err
}

func (p *SQLitePersister) Remove(path string) error {
	_, err := p.db.Exec(`DELETE FROM snapshots WHERE path = ?`, path)
	return err
}

func (p *SQLitePersister) LoadAll() (map[string]json.RawMessage, error) {
	rows, err := p.db.Query(`SELECT path, value FROM snapshots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var path string
		var value []byte
		if err := rows.Scan(&path, &value); err != nil {
			return nil, err
		}
		out[path] = value
	}
	return out, rows.Err()
}

func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
