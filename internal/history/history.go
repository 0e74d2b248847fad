// Package history records the blocks an interpreter session has run.
//
// Two stores implement Store: MemoryStore keeps entries for the life of
// the process, SQLiteStore persists them in a SQLite database so history
// survives restarts and can be shared by several sessions.
package history

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("history: store closed")

	// ErrEmptySource is returned when appending an empty block.
	ErrEmptySource = errors.New("history: empty source")
)

// Entry is one interpreted block.
type Entry struct {
	ID        int64
	Session   string
	Source    string
	Mode      string
	CreatedAt time.Time
}

// Store records and lists history entries. Implementations are safe for
// concurrent use.
type Store interface {
	// Append records e and returns it with ID and CreatedAt filled in.
	Append(ctx context.Context, e Entry) (Entry, error)

	// List returns the latest limit entries of session in the order they
	// were appended. An empty session lists every session; limit <= 0
	// lists everything.
	List(ctx context.Context, session string, limit int) ([]Entry, error)

	// Clear removes the entries of session, or all entries when empty.
	Clear(ctx context.Context, session string) error

	// Close releases the store.
	Close() error
}

// Sources returns the Source of each entry.
func Sources(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Source
	}
	return out
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

// Append records e.
func (m *MemoryStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if e.Source == "" {
		return Entry{}, ErrEmptySource
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entry{}, ErrClosed
	}
	e.ID = m.nextID
	m.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.entries = append(m.entries, e)
	return e, nil
}

// List returns the latest entries of session.
func (m *MemoryStore) List(ctx context.Context, session string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []Entry
	for _, e := range m.entries {
		if session == "" || e.Session == session {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]Entry(nil), out...), nil
}

// Clear removes the entries of session.
func (m *MemoryStore) Clear(ctx context.Context, session string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if session == "" {
		m.entries = nil
		return nil
	}
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.Session != session {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
