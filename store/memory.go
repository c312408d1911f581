package store

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/stevemurr/json-mock-server/document"
)

// Memory keeps the last flushed snapshot in memory. Data is lost on restart.
// Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	data    []byte
	flushes int
	failErr error
}

// NewMemory returns a Memory persister whose initial state is initial.
func NewMemory(initial map[string]any) *Memory {
	if initial == nil {
		initial = map[string]any{}
	}
	b, _ := json.Marshal(initial)
	return &Memory{data: b}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Load() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := document.Decode(m.data)
	if err != nil {
		return nil, err
	}
	result, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("memory snapshot is not an object")
	}
	return result, nil
}

func (m *Memory) Flush(snapshot map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	m.data = b
	m.flushes++
	return nil
}

func (m *Memory) Close() error { return nil }

// Flushes returns how many snapshots were written.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Bytes returns the encoded last snapshot.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// FailWith makes every following Flush return err. A nil err clears it.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}
