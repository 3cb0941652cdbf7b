package transcript

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

func newTestStore(t *testing.T, retention int) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteStoreConfig{DSN: testDSN(t), RetentionCount: retention})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func makeRecord(i int) Record {
	return Record{
		ID:        fmt.Sprintf("turn-%d", i),
		Query:     fmt.Sprintf("query %d", i),
		Model:     "tool-model",
		Response:  `[TOOL]get_local_file_list{"path": "."}[/TOOL]`,
		FinalText: "two files",
		Grammar:   "tag",
		Invocations: []Invocation{{
			Tool:       "get_local_file_list",
			Parameters: map[string]any{"path": "."},
			Provider:   "files",
			Result:     "a.txt\nb.txt",
			Duration:   3 * time.Millisecond,
		}},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC),
		Duration:  time.Duration(i) * time.Second,
	}
}

func testStores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestStore(t, 0),
		"memory": NewMemStore(),
	}
}

func TestStore_AppendListGet(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 3; i++ {
				if err := store.Append(ctx, makeRecord(i)); err != nil {
					t.Fatalf("Append(%d): %v", i, err)
				}
			}

			all, err := store.List(ctx, 0)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("len = %d, want 3", len(all))
			}
			if all[0].ID != "turn-3" || all[2].ID != "turn-1" {
				t.Fatalf("order = %s..%s, want newest first", all[0].ID, all[2].ID)
			}

			limited, err := store.List(ctx, 2)
			if err != nil {
				t.Fatalf("List(2): %v", err)
			}
			if len(limited) != 2 || limited[1].ID != "turn-2" {
				t.Fatalf("limited = %+v", limited)
			}

			got, err := store.Get(ctx, "turn-2")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			want := makeRecord(2)
			if got.Query != want.Query || got.FinalText != want.FinalText || got.Grammar != want.Grammar {
				t.Fatalf("Get = %+v", got)
			}
			if !got.CreatedAt.Equal(want.CreatedAt) || got.Duration != want.Duration {
				t.Fatalf("times = %v/%v, want %v/%v", got.CreatedAt, got.Duration, want.CreatedAt, want.Duration)
			}
			if len(got.Invocations) != 1 || got.Invocations[0].Parameters["path"] != "." {
				t.Fatalf("invocations = %+v", got.Invocations)
			}

			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSQLiteStore_Retention(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		if err := store.Append(ctx, makeRecord(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	records, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || records[0].ID != "turn-4" || records[1].ID != "turn-3" {
		t.Fatalf("records = %+v, want turn-4, turn-3", records)
	}
}

func TestSQLiteStore_DuplicateIDRejected(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	if err := store.Append(ctx, makeRecord(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, makeRecord(1)); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestSQLiteStore_FileDSNCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	if err := store.Append(context.Background(), makeRecord(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	reopened, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), "turn-1"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func TestSQLiteStore_EmptyDSN(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteStoreConfig{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
