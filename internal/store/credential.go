package store

import (
	"database/sql"
	"errors"
	"time"
)

// SaveCredential persists the single bearer token for this profile.
func (db *DB) SaveCredential(token string) error {
	_, err := db.Exec(`
		INSERT INTO credential (id, token, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at`,
		token, time.Now().UnixMilli())
	return err
}

// LoadCredential returns the persisted token, or "" when none is stored.
func (db *DB) LoadCredential() (string, error) {
	var token string
	err := db.QueryRow(`SELECT token FROM credential WHERE id = 1`).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// DeleteCredential removes the persisted token. Deleting when none exists is not an error.
func (db *DB) DeleteCredential() error {
	_, err := db.Exec(`DELETE FROM credential WHERE id = 1`)
	return err
}
