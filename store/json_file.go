package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stevemurr/json-mock-server/document"
)

// Format is the encoding of a backing file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from the file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// JSONFile keeps the whole store in a single file whose top-level keys are
// collection names.
//
// Layout:
//
//	{
//	  "posts":   [{"id": 1, "title": "a"}],
//	  "profile": {"name": "x"}
//	}
//
// Paths ending in .yaml or .yml hold the same structure as a YAML mapping.
type JSONFile struct {
	path   string
	format Format
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path, format: FormatFor(path)}
}

func (f *JSONFile) Name() string { return string(f.format) }

// Path returns the backing file location.
func (f *JSONFile) Path() string { return f.path }

// Load reads and parses the backing file. A missing or malformed file is an
// error; the caller decides whether that is fatal.
func (f *JSONFile) Load() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return decodeFile(data, f.format)
}

func decodeFile(data []byte, format Format) (map[string]any, error) {
	var raw any
	switch format {
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if v == nil {
			return map[string]any{}, nil
		}
		norm, err := document.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		raw = norm
	default:
		v, err := document.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		raw = v
	}
	result, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value must be an object, got %s", document.Type(raw))
	}
	return result, nil
}

// Flush writes snapshot to a temporary file next to the target and renames
// it into place, so the file on disk is always a complete snapshot.
func (f *JSONFile) Flush(snapshot map[string]any) error {
	b, err := encodeFile(snapshot, f.format)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

func encodeFile(snapshot map[string]any, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		plain, err := yamlValue(snapshot)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(plain); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		b, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}

// yamlValue rewrites json.Number leaves into Go integers or floats so the
// YAML encoder emits them as plain numbers without losing precision.
func yamlValue(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		s := x.String()
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", s, err)
		}
		return f, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			c, err := yamlValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			c, err := yamlValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return v, nil
	}
}

func (f *JSONFile) Close() error { return nil }
