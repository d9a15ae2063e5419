package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Sternrassler/epigraph-corpus/pkg/span"
)

func entry(i int, id string) Entry {
	return Entry{
		Index:         i,
		ID:            id,
		Transcription: "Caio Iulio Valenti",
		Annotations:   []span.Span{{Start: 0, End: 4, Label: "PRAENOMEN"}},
	}
}

// testStoreContract exercises the behavior every backend shares. newStore
// must return an empty store for a fresh job.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("fresh job starts at zero", func(t *testing.T) {
		s := newStore(t)
		st, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if st.Cursor != 0 || st.RunID != "" {
			t.Errorf("Load() = %+v, want zero state", st)
		}
		entries, err := s.Entries(ctx)
		if err != nil {
			t.Fatalf("Entries() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("Entries() = %d entries, want 0", len(entries))
		}
	})

	t.Run("flush advances cursor and appends", func(t *testing.T) {
		s := newStore(t)
		if err := s.Flush(ctx, State{Cursor: 2, RunID: "run-1"}, []Entry{entry(0, "HD000001"), entry(1, "HD000002")}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		failed := entry(2, "HD000003")
		failed.Annotations = nil
		failed.Error = "labeling service error (status 500)"
		if err := s.Flush(ctx, State{Cursor: 3, RunID: "run-1"}, []Entry{failed}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}

		st, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if st.Cursor != 3 || st.RunID != "run-1" || st.UpdatedAt.IsZero() {
			t.Errorf("Load() = %+v", st)
		}

		entries, err := s.Entries(ctx)
		if err != nil {
			t.Fatalf("Entries() error = %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("Entries() = %d entries, want 3", len(entries))
		}
		if !reflect.DeepEqual(entries[0].Annotations, []span.Span{{Start: 0, End: 4, Label: "PRAENOMEN"}}) {
			t.Errorf("entry 0 annotations = %v", entries[0].Annotations)
		}
		if !entries[2].Failed() || entries[2].ID != "HD000003" {
			t.Errorf("entry 2 = %+v, want failure marker for HD000003", entries[2])
		}
	})

	t.Run("cursor never moves backwards", func(t *testing.T) {
		s := newStore(t)
		if err := s.Flush(ctx, State{Cursor: 5}, nil); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		err := s.Flush(ctx, State{Cursor: 4}, []Entry{entry(4, "HD000005")})
		if !errors.Is(err, ErrCursorRegression) {
			t.Fatalf("Flush() error = %v, want ErrCursorRegression", err)
		}
		entries, _ := s.Entries(ctx)
		if len(entries) != 0 {
			t.Errorf("rejected flush wrote %d entries", len(entries))
		}
		if err := s.Flush(ctx, State{Cursor: 5}, nil); err != nil {
			t.Errorf("flush at the same cursor should succeed: %v", err)
		}
	})

	t.Run("duplicate index keeps first entry", func(t *testing.T) {
		s := newStore(t)
		first := entry(1, "HD000002")
		second := entry(1, "HD000002")
		second.Annotations = []span.Span{{Start: 5, End: 10, Label: "NOMEN"}}

		if err := s.Flush(ctx, State{Cursor: 1}, []Entry{first, entry(0, "HD000001")}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if err := s.Flush(ctx, State{Cursor: 2}, []Entry{second}); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}

		entries, err := s.Entries(ctx)
		if err != nil {
			t.Fatalf("Entries() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Entries() = %d entries, want 2", len(entries))
		}
		if entries[0].Index != 0 || entries[1].Index != 1 {
			t.Errorf("Entries() not ordered by index: %d, %d", entries[0].Index, entries[1].Index)
		}
		if !reflect.DeepEqual(entries[1].Annotations, first.Annotations) {
			t.Errorf("duplicate index kept %v, want first %v", entries[1].Annotations, first.Annotations)
		}
	})
}

func TestFileStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, err := OpenFile(t.TempDir(), "job")
		if err != nil {
			t.Fatalf("OpenFile() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cp.db"), "job")
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_ExclusiveLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cp.db")

	first, err := OpenSQLite(ctx, path, "job")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}

	if _, err := OpenSQLite(ctx, path, "job"); !errors.Is(err, ErrLocked) {
		t.Fatalf("second OpenSQLite() error = %v, want ErrLocked", err)
	}

	// Jobs sharing one database lock independently.
	other, err := OpenSQLite(ctx, path, "other-job")
	if err != nil {
		t.Fatalf("OpenSQLite() for another job error = %v", err)
	}
	if err := other.Flush(ctx, State{Cursor: 1}, []Entry{entry(0, "HD000009")}); err != nil {
		t.Errorf("Flush() on another job error = %v", err)
	}
	_ = other.Close()

	if err := first.Flush(ctx, State{Cursor: 1}, []Entry{entry(0, "HD000001")}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	again, err := OpenSQLite(ctx, path, "job")
	if err != nil {
		t.Fatalf("OpenSQLite() after Close error = %v", err)
	}
	defer again.Close()
	st, err := again.Load(ctx)
	if err != nil || st.Cursor != 1 {
		t.Errorf("Load() after reopen = %+v, %v", st, err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr error
	}{
		{"file", Config{Backend: BackendFile, Dir: dir, Job: "a"}, "*checkpoint.FileStore", nil},
		{"default backend", Config{Dir: dir, Job: "b"}, "*checkpoint.FileStore", nil},
		{"sqlite", Config{Backend: BackendSQLite, SQLitePath: filepath.Join(dir, "db", "cp.db"), Job: "c"}, "*checkpoint.SQLiteStore", nil},
		{"unknown", Config{Backend: "etcd", Job: "d"}, "", ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer s.Close()
			if got := reflect.TypeOf(s).String(); got != tt.want {
				t.Errorf("Open() type = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := Open(ctx, Config{Backend: BackendFile, Dir: dir}); err == nil {
		t.Error("Open() without job should fail")
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]Entry{
		{Index: 2, ID: "c"},
		{Index: 0, ID: "a"},
		{Index: 2, ID: "c-again"},
		{Index: 1, ID: "b"},
	})
	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("dedupe() = %v, want %v", ids, want)
	}
}
