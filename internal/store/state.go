package store

import (
	"database/sql"
	"errors"
	"time"
)

// Keys used in sync_state.
const (
	StateLastContact = "last_contact"
)

// SetState upserts a sync_state value.
func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// GetState returns a sync_state value, or "" if the key is absent.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// ClearState removes every sync_state row; used on logout so nothing from one
// account leaks into the next.
func (db *DB) ClearState() error {
	_, err := db.Exec(`DELETE FROM sync_state`)
	return err
}
