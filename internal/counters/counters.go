// Package counters persists the small running totals TransactionRecorder
// keeps across restarts: how many transactions were logged today, how many
// vehicles were served, and the repo-wide fill total.
package counters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Counters is the repo_log.json shape. Field names intentionally mirror the
// on-disk keys so json.Unmarshal into a map isn't needed for the tolerant
// load path.
type Counters struct {
	Date        string  `json:"date"`
	WaitRecs    int     `json:"wait_recs"`
	VhecCount   int     `json:"vhec_count"`
	RepoFillLit float64 `json:"repo_fill"`
}

// Path returns the counters file location under appRoot.
func Path(appRoot string) string {
	return filepath.Join(appRoot, "configs", "repo_log.json")
}

// rawRecord accepts either integer or decimal JSON values for every field,
// since the on-disk shape is permissive about numeric formatting.
type rawRecord struct {
	Date        string      `json:"date"`
	WaitRecs    json.Number `json:"wait_recs"`
	VhecCount   json.Number `json:"vhec_count"`
	RepoFillLit json.Number `json:"repo_fill"`
}

// Load reads counters from appRoot, tolerating a missing or corrupt file by
// returning zero-valued Counters instead of an error.
func Load(appRoot string) Counters {
	data, err := os.ReadFile(Path(appRoot))
	if err != nil {
		return Counters{}
	}

	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return Counters{}
	}

	c := Counters{Date: raw.Date}
	if v, err := raw.WaitRecs.Float64(); err == nil {
		c.WaitRecs = int(v)
	}
	if v, err := raw.VhecCount.Float64(); err == nil {
		c.VhecCount = int(v)
	}
	if v, err := raw.RepoFillLit.Float64(); err == nil {
		c.RepoFillLit = v
	}
	return c
}

// Save rewrites the counters file, creating the configs/ directory if needed.
func Save(appRoot string, c Counters) error {
	dir := filepath.Dir(Path(appRoot))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("counters: mkdir %s: %w", dir, err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("counters: marshal: %w", err)
	}

	if err := os.WriteFile(Path(appRoot), data, 0o644); err != nil {
		return fmt.Errorf("counters: write %s: %w", Path(appRoot), err)
	}
	return nil
}
