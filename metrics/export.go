package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Summary is the document written at the end of a run and stored with it.
type Summary struct {
	RunID        string    `json:"run_id"`
	TargetURL    string    `json:"target_url"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	VirtualUsers int       `json:"virtual_users"`
	Metrics      Snapshot  `json:"metrics"`
}

// MarshalSummary renders the summary as indented JSON.
func MarshalSummary(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

// UnmarshalSummary parses a document produced by MarshalSummary.
func UnmarshalSummary(data []byte) (Summary, error) {
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return Summary{}, fmt.Errorf("failed to parse summary: %v", err)
	}
	return summary, nil
}

// ExportSummary writes the summary to path, creating parent directories.
func ExportSummary(path string, summary Summary) error {
	data, err := MarshalSummary(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %v", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %v", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary: %v", err)
	}
	return nil
}
