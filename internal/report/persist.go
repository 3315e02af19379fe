// Package report stores the per-layer defect summaries of a job.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"layer-monitor/internal/defect"
)

// JobDir returns <home>/<outputPath>/<YYYY-MM-DD>/<part>_HH_MM for a job
// started at t.
func JobDir(home, outputPath, part string, t time.Time) string {
	return filepath.Join(home, outputPath, t.Format("2006-01-02"), part+t.Format("_15_04"))
}

// Persister writes the job log as an indented JSON array.
type Persister struct {
	dir  string
	part string
}

// NewPersister writes to <dir>/<part>_defects.json.
func NewPersister(dir, part string) *Persister {
	return &Persister{dir: dir, part: part}
}

// Path returns the JSON log location.
func (p *Persister) Path() string {
	return filepath.Join(p.dir, p.part+"_defects.json")
}

// Save overwrites the log with summaries in inspection order.
func (p *Persister) Save(summaries []defect.LayerSummary) error {
	if summaries == nil {
		summaries = []defect.LayerSummary{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(summaries); err != nil {
		return fmt.Errorf("encode summaries: %w", err)
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(p.Path(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p.Path(), err)
	}
	return nil
}

// Load reads a log written by Save.
func Load(path string) ([]defect.LayerSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []defect.LayerSummary
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return out, nil
}
