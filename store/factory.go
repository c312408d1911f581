package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Open creates a Persister based on the backend name.
//
// Supported backends:
//
//	"json"   - single JSON or YAML file at path (default)
//	"sqlite" - SQLite database at path
//	"memory" - in-memory (ephemeral, for testing); path is ignored
//
// An empty backend is inferred from the extension of path: .db, .sqlite and
// .sqlite3 select sqlite, anything else selects json.
func Open(backend, path string) (Persister, error) {
	if backend == "" {
		backend = inferBackend(path)
	}
	switch backend {
	case "json", "yaml":
		if path == "" {
			return nil, fmt.Errorf("backend %q needs a file path", backend)
		}
		return NewJSONFile(path), nil
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("backend %q needs a database path", backend)
		}
		return NewSqlite(path)
	case "memory":
		return NewMemory(nil), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, memory)", backend)
	}
}

func inferBackend(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite"
	default:
		return "json"
	}
}

// Seed copies the contents of the JSON or YAML file at seedPath into p when
// p holds no collections yet. It reports whether anything was imported.
func Seed(p Persister, seedPath string) (bool, error) {
	current, err := p.Load()
	if err != nil {
		return false, err
	}
	if len(current) > 0 {
		return false, nil
	}
	data, err := NewJSONFile(seedPath).Load()
	if err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	if err := p.Flush(data); err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	return true, nil
}
