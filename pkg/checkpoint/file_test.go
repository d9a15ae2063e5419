package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestFileStore_ExclusiveLock(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenFile(dir, "job")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}

	if _, err := OpenFile(dir, "job"); !errors.Is(err, ErrLocked) {
		t.Fatalf("second OpenFile() error = %v, want ErrLocked", err)
	}

	other, err := OpenFile(dir, "other-job")
	if err != nil {
		t.Fatalf("OpenFile() for another job error = %v", err)
	}
	_ = other.Close()

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	again, err := OpenFile(dir, "job")
	if err != nil {
		t.Fatalf("OpenFile() after Close error = %v", err)
	}
	_ = again.Close()
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenFile(dir, "job")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if err := s.Flush(ctx, State{Cursor: 2, RunID: "r1"}, []Entry{entry(0, "HD000001"), entry(1, "HD000002")}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	_ = s.Close()

	s, err = OpenFile(dir, "job")
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	st, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Cursor != 2 || st.RunID != "r1" || st.Job != "job" {
		t.Errorf("Load() = %+v", st)
	}
	entries, err := s.Entries(ctx)
	if err != nil || len(entries) != 2 {
		t.Fatalf("Entries() = %d, %v", len(entries), err)
	}
}

func TestFileStore_TornLine(t *testing.T) {
	ctx := context.Background()
	s, err := OpenFile(t.TempDir(), "job")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer s.Close()

	if err := s.Flush(ctx, State{Cursor: 1}, []Entry{entry(0, "HD000001")}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	f, err := os.OpenFile(s.EntriesPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"index":1,"id":"HD0000`)
	_ = f.Close()

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "HD000001" {
		t.Errorf("Entries() = %+v, want only the complete entry", entries)
	}

	// The resumed run relabels index 1; its entry must not merge into the tail.
	if err := s.Flush(ctx, State{Cursor: 3}, []Entry{entry(1, "HD000002"), entry(2, "HD000003")}); err != nil {
		t.Fatalf("Flush() after torn line error = %v", err)
	}
	entries, err = s.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	got := make([]int, len(entries))
	for i, e := range entries {
		got[i] = e.Index
	}
	if !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("indices after resume = %v, want [0 1 2]", got)
	}
	if entries[1].ID != "HD000002" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestTrimTornTail(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		want        string
		wantDropped int64
	}{
		{"empty", "", "", 0},
		{"clean", "{\"index\":0}\n", "{\"index\":0}\n", 0},
		{"torn", "{\"index\":0}\n{\"index\":1,\"id\":\"HD0000", "{\"index\":0}\n", 23},
		{"only torn", "{\"index\":0", "", 10},
		{"long tail", "{}\n" + strings.Repeat("x", 10000), "{}\n", 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "job.jsonl")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			f, err := os.OpenFile(path, os.O_RDWR, 0o644)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()

			dropped, err := trimTornTail(f)
			if err != nil {
				t.Fatalf("trimTornTail() error = %v", err)
			}
			if dropped != tt.wantDropped {
				t.Errorf("dropped = %d, want %d", dropped, tt.wantDropped)
			}
			got, _ := os.ReadFile(path)
			if string(got) != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileStore_CorruptState(t *testing.T) {
	s, err := OpenFile(t.TempDir(), "job")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer s.Close()

	if err := os.WriteFile(s.StatePath(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background()); err == nil {
		t.Error("Load() should fail on a corrupt state file")
	}
	if err := s.Flush(context.Background(), State{Cursor: 1}, nil); err == nil {
		t.Error("Flush() should fail when the current state is unreadable")
	}
}
