// Package keystoredb implements a sqlite3-backed credential store for
// esm.KeyLookup, with a migration-numbered schema.
package keystoredb

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
)

// DB stores server_id -> key pairs in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens a DB from the provided sqlite3 filename.
func Open(name string) (*DB, error) {
	// WAL and a larger cache make our writes and queries MUCH faster.
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	return &DB{x}, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Get implements esm.KeyLookup. A nil key and nil error means no entry was
// found for serverID.
func (db *DB) Get(serverID []byte) ([]byte, error) {
	var keyHex string
	if err := db.x.Get(&keyHex, `SELECT key FROM server_keys WHERE server_id = ?`, hex.EncodeToString(serverID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid stored key: %w", err)
	}
	return key, nil
}

// Set inserts or replaces the key associated with serverID.
func (db *DB) Set(serverID, key []byte) error {
	_, err := db.x.NamedExec(`
		INSERT OR REPLACE INTO
		server_keys ( server_id,  key)
		VALUES      (:server_id, :key)
	`, map[string]any{
		"server_id": hex.EncodeToString(serverID),
		"key":       hex.EncodeToString(key),
	})
	return err
}

// Delete removes any entry for serverID.
func (db *DB) Delete(serverID []byte) error {
	_, err := db.x.Exec(`DELETE FROM server_keys WHERE server_id = ?`, hex.EncodeToString(serverID))
	return err
}
