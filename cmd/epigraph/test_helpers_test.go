package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/epigraph-corpus/internal/config"
	"github.com/Sternrassler/epigraph-corpus/pkg/labeling"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	cfg        config.Config
}

// setupCLITestEnv writes a configuration rooted in a temp directory with
// every delay shortened for tests. mutate may adjust it before it is saved.
func setupCLITestEnv(t *testing.T, mutate func(*config.Config)) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Acquire.Destination = filepath.Join(base, "inscriptions")
	cfg.Acquire.PageSize = 20
	cfg.Acquire.PageDelay = 0
	cfg.Acquire.RetryDelay = time.Millisecond
	cfg.Annotate.InputDir = cfg.Acquire.Destination
	cfg.Annotate.Output = filepath.Join(base, "labeled.jsonl")
	cfg.Annotate.RateDelay = 0
	cfg.Annotate.RetryDelay = time.Millisecond
	cfg.Annotate.Checkpoint.Dir = filepath.Join(base, "checkpoints")
	cfg.Annotate.Checkpoint.SQLitePath = filepath.Join(base, "checkpoints", "checkpoint.db")
	cfg.Logging.Level = "error"
	if mutate != nil {
		mutate(&cfg)
	}

	path := filepath.Join(base, "epigraph.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save config: %v", err)
	}
	t.Setenv(labeling.APIKeyEnv, "")

	return &cliTestEnv{baseDir: base, configPath: path, cfg: cfg}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	return runCLIWith(t, args, configPath, nil)
}

// runCLIWith runs the command tree with an optional labeler factory in place
// of the Gemini client.
func runCLIWith(t *testing.T, args []string, configPath string, factory labelerFactory) (string, string, error) {
	t.Helper()
	cmd, ctx := newRootCommandWithContext()
	if factory != nil {
		ctx.newLabeler = factory
	}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeRecords(t *testing.T, dir string, records map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for id, transcription := range records {
		body := `{"id":"` + id + `","diplomatic_text":"` + transcription + `","transcription":"` + transcription + `"}`
		if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}
