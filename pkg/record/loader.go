package record

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// LoadDir reads every <identifier>.json file in dir and returns the records
// with a non-empty transcription, ordered by file name. The order is stable
// across runs, which the annotation resume cursor depends on.
func LoadDir(dir string, m FieldMap) ([]Record, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.Strings(paths)

	records := make([]Record, 0, len(paths))
	skipped := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		rec, err := FromPayload(data, m)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable record")
			skipped++
			continue
		}
		if strings.TrimSpace(rec.Transcription) == "" {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	log.Info().
		Str("dir", dir).
		Int("records", len(records)).
		Int("skipped", skipped).
		Msg("Loaded records")

	return records, nil
}
