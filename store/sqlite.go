package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/stevemurr/json-mock-server/document"
)

// Sqlite stores every collection as one row in a SQLite database.
//
// Tables:
//
//	collections(name, data)  PRIMARY KEY (name)
//
// Flush rewrites the table inside a single transaction, so a reader never
// sees half of a snapshot.
type Sqlite struct {
	db *sql.DB
}

func NewSqlite(dbPath string) (*Sqlite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &Sqlite{db: db}, nil
}

func (s *Sqlite) Name() string { return "sqlite" }

func (s *Sqlite) Close() error {
	return s.db.Close()
}

func (s *Sqlite) Load() (map[string]any, error) {
	rows, err := s.db.Query("SELECT name, data FROM collections")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		v, err := document.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", name, err)
		}
		result[name] = v
	}
	return result, rows.Err()
}

func (s *Sqlite) Flush(snapshot map[string]any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM collections"); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO collections (name, data) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for name, v := range snapshot {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("collection %q: %w", name, err)
		}
		if _, err := stmt.Exec(name, string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
