// Package state persists shared script state (variables, storage, cookies)
// between runs. After a successful evaluation the runner hands the final
// SharedState here; the next run is seeded from it.
package state

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/serdar/apiflow/internal/core/model"
)

const (
	scopeVariables = "variables"
	scopeLocal     = "localStorage"
	scopeSession   = "sessionStorage"
	scopeCookies   = "cookies"
)

// Store manages shared-state persistence.
type Store struct {
	db *sql.DB
}

// Open creates or opens the state database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS shared_state (
			scope TEXT NOT NULL,
			key   TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (scope, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating state table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the persisted state with the given snapshot atomically.
func (s *Store) Save(state model.SharedState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting state save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM shared_state`); err != nil {
		return fmt.Errorf("clearing state: %w", err)
	}

	insert := func(scope string, entries map[string]any) error {
		for k, v := range entries {
			encoded, err := model.EncodeJSON(v)
			if err != nil {
				return fmt.Errorf("encoding %s/%s: %w", scope, k, err)
			}
			if _, err := tx.Exec(
				`INSERT INTO shared_state (scope, key, value) VALUES (?, ?, ?)`,
				scope, k, string(encoded)); err != nil {
				return fmt.Errorf("saving %s/%s: %w", scope, k, err)
			}
		}
		return nil
	}

	if err := insert(scopeVariables, state.Variables); err != nil {
		return err
	}
	if err := insert(scopeLocal, state.LocalStorage); err != nil {
		return err
	}
	if err := insert(scopeSession, state.SessionStorage); err != nil {
		return err
	}
	for k, v := range state.Cookies {
		if _, err := tx.Exec(
			`INSERT INTO shared_state (scope, key, value) VALUES (?, ?, ?)`,
			scopeCookies, k, v); err != nil {
			return fmt.Errorf("saving cookie %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}

// Load reads the persisted state. An empty database yields an empty state.
func (s *Store) Load() (model.SharedState, error) {
	state := model.NewSharedState()

	rows, err := s.db.Query(`SELECT scope, key, value FROM shared_state`)
	if err != nil {
		return state, fmt.Errorf("loading state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope, key, value string
		if err := rows.Scan(&scope, &key, &value); err != nil {
			return state, fmt.Errorf("scanning state row: %w", err)
		}
		if scope == scopeCookies {
			state.Cookies[key] = value
			continue
		}
		decoded, err := model.DecodeJSON([]byte(value))
		if err != nil {
			// Skip unreadable entries instead of failing the whole load.
			continue
		}
		switch scope {
		case scopeVariables:
			state.Variables[key] = decoded
		case scopeLocal:
			state.LocalStorage[key] = decoded
		case scopeSession:
			state.SessionStorage[key] = decoded
		}
	}
	return state, rows.Err()
}
