package history

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// storeFactories returns a constructor per Store implementation.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			return s
		},
	}
}

func TestStore_AppendList(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			first, err := s.Append(ctx, Entry{Session: "a", Source: "x = 1", Mode: "execute"})
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if first.ID == 0 || first.CreatedAt.IsZero() {
				t.Errorf("Append did not fill ID/CreatedAt: %+v", first)
			}
			for _, src := range []string{"%echo hi", "!ls"} {
				if _, err := s.Append(ctx, Entry{Session: "a", Source: src}); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := s.Append(ctx, Entry{Session: "b", Source: "print(2)"}); err != nil {
				t.Fatal(err)
			}

			got, err := s.List(ctx, "a", 0)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if want := "x = 1|%echo hi|!ls"; strings.Join(Sources(got), "|") != want {
				t.Errorf("List(a) = %q, want %q", Sources(got), want)
			}
			if got[0].Mode != "execute" {
				t.Errorf("Mode = %q, want execute", got[0].Mode)
			}

			latest, _ := s.List(ctx, "a", 2)
			if want := "%echo hi|!ls"; strings.Join(Sources(latest), "|") != want {
				t.Errorf("List(a, 2) = %q, want %q", Sources(latest), want)
			}

			all, _ := s.List(ctx, "", 0)
			if len(all) != 4 {
				t.Errorf("List(\"\") returned %d entries, want 4", len(all))
			}
		})
	}
}

func TestStore_Clear(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			s.Append(ctx, Entry{Session: "a", Source: "1"})
			s.Append(ctx, Entry{Session: "b", Source: "2"})

			if err := s.Clear(ctx, "a"); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if got, _ := s.List(ctx, "", 0); len(got) != 1 || got[0].Session != "b" {
				t.Errorf("after Clear(a): %+v", got)
			}
			if err := s.Clear(ctx, ""); err != nil {
				t.Fatal(err)
			}
			if got, _ := s.List(ctx, "", 0); len(got) != 0 {
				t.Errorf("after Clear(\"\"): %+v", got)
			}
		})
	}
}

func TestStore_Errors(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			if _, err := s.Append(ctx, Entry{Session: "a"}); !errors.Is(err, ErrEmptySource) {
				t.Errorf("Append(empty) = %v, want ErrEmptySource", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("second Close = %v", err)
			}
			if _, err := s.Append(ctx, Entry{Source: "x"}); !errors.Is(err, ErrClosed) {
				t.Errorf("Append after Close = %v, want ErrClosed", err)
			}
			if _, err := s.List(ctx, "", 0); !errors.Is(err, ErrClosed) {
				t.Errorf("List after Close = %v, want ErrClosed", err)
			}
		})
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.Append(ctx, Entry{Session: "s1", Source: "%lsmagic", CreatedAt: created}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.List(ctx, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Source != "%lsmagic" {
		t.Fatalf("after reopen: %+v", got)
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, created)
	}
}

func TestSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:) failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Append(ctx, Entry{Session: "m", Source: "x"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.List(ctx, "m", 0); len(got) != 1 {
		t.Errorf("List = %+v", got)
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore().Append(ctx, Entry{Source: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Append = %v, want context.Canceled", err)
	}
}
