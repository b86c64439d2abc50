//go:build !tinygo

package platform

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// NVRAM keeps the state a real watch holds in battery-backed memory (RTC
// error, step counter) across simulator runs.
type NVRAM struct {
	db *sql.DB
}

// NVRAM keys.
const (
	KeyRTCOffset = "rtc_offset_ns"
	KeySteps     = "steps"
)

// OpenNVRAM opens (or creates) the store. ":memory:" gives a throwaway one.
func OpenNVRAM(path string) (*NVRAM, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open nvram: %w", err)
	}
	// One connection: an in-memory database is per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS nvram (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate nvram: %w", err)
	}
	return &NVRAM{db: db}, nil
}

func (n *NVRAM) Close() error { return n.db.Close() }

// Get returns the stored value; ok is false when the key was never written.
func (n *NVRAM) Get(key string) (v int64, ok bool, err error) {
	err = n.db.QueryRow(`SELECT value FROM nvram WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("nvram get %s: %w", key, err)
	}
	return v, true, nil
}

func (n *NVRAM) Put(key string, v int64) error {
	_, err := n.db.Exec(
		`INSERT INTO nvram (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, v,
	)
	if err != nil {
		return fmt.Errorf("nvram put %s: %w", key, err)
	}
	return nil
}
