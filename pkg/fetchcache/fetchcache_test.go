package fetchcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/epigraph-corpus/internal/fsutil"
)

func fastConfig(resume bool) Config {
	return Config{Resume: resume, RetryDelay: time.Millisecond}
}

func TestCache_SaveAndExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dalmatia")
	c, err := New(dir, fastConfig(false))
	if err != nil {
		t.Fatal(err)
	}

	if c.Exists("HD000001") {
		t.Fatal("Exists() before Save should be false")
	}

	path, err := c.Save(context.Background(), "HD000001", []byte(`{"id":"HD000001","transcription":"Felix"}`))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if path != filepath.Join(dir, "HD000001.json") {
		t.Errorf("Save() path = %s", path)
	}
	if !c.Exists("HD000001") {
		t.Error("Exists() after Save should be true")
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"id\": \"HD000001\",\n  \"transcription\": \"Felix\"\n}\n"
	if string(got) != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}

func TestCache_SaveNonJSONVerbatim(t *testing.T) {
	c, _ := New(t.TempDir(), fastConfig(false))
	path, err := c.Save(context.Background(), "HD000002", []byte("not json"))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "not json" {
		t.Errorf("content = %q", got)
	}
}

func TestCache_ResumeSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "HD000003.json")
	if err := os.WriteFile(path, []byte(`{"id":"old"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	before, _ := os.Stat(path)

	c, _ := New(dir, fastConfig(true))
	got, err := c.Save(context.Background(), "HD000003", []byte(`{"id":"new"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("Save() path = %s, want %s", got, path)
	}

	content, _ := os.ReadFile(path)
	if string(content) != `{"id":"old"}` {
		t.Errorf("resume overwrote existing file: %s", content)
	}
	after, _ := os.Stat(path)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("resume touched the existing file")
	}

	c, _ = New(dir, fastConfig(false))
	if _, err := c.Save(context.Background(), "HD000003", []byte(`{"id":"new"}`)); err != nil {
		t.Fatal(err)
	}
	content, _ = os.ReadFile(path)
	if string(content) == `{"id":"old"}` {
		t.Error("without resume the file should be overwritten")
	}
}

func TestCache_DestinationUnavailable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, _ := New(filepath.Join(blocker, "sub"), fastConfig(false))
	_, err := c.Save(context.Background(), "HD000001", []byte(`{}`))
	if !errors.Is(err, ErrDestination) {
		t.Errorf("Save() error = %v, want ErrDestination", err)
	}
	if err := c.EnsureDir(); !errors.Is(err, ErrDestination) {
		t.Errorf("EnsureDir() error = %v, want ErrDestination", err)
	}

	if _, err := New("  ", fastConfig(false)); !errors.Is(err, ErrDestination) {
		t.Errorf("New(blank) error = %v, want ErrDestination", err)
	}
}

func TestCache_WriteRetriedOnce(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{"first write succeeds", 0, false, 1},
		{"retry succeeds", 1, false, 2},
		{"retry fails too", 2, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := New(t.TempDir(), fastConfig(false))
			calls := 0
			c.write = func(path string, data []byte) error {
				calls++
				if calls <= tt.failures {
					return errors.New("no space left on device")
				}
				return fsutil.WriteFile(path, data)
			}

			_, err := c.Save(context.Background(), "HD000004", []byte(`{}`))
			if (err != nil) != tt.wantErr {
				t.Errorf("Save() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("write calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"HD000001", false},
		{"HD000001-a", false},
		{"", true},
		{"  ", true},
		{"../secret", true},
		{"a/b", true},
		{`a\b`, true},
		{"..", true},
	}
	for _, tt := range tests {
		if err := ValidateID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateID(%q) = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}

	c, _ := New(t.TempDir(), fastConfig(false))
	if _, err := c.Save(context.Background(), "../escape", []byte(`{}`)); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Save(../escape) error = %v, want ErrInvalidID", err)
	}
}

func TestCache_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	c, _ := New(dir, fastConfig(false))
	for _, id := range []string{"HD000001", "HD000002"} {
		if _, err := c.Save(context.Background(), id, []byte(`{"id":1}`)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want exactly the two record files", names)
	}
}
