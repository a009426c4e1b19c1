package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CollectionSummary contains results of one collection run
type CollectionSummary struct {
	RunID             string         `json:"run_id"`
	Scope             string         `json:"scope,omitempty"`
	CollectedAt       string         `json:"collected_at"`
	TotalReports      int            `json:"total_reports"`
	SuccessfulReports int            `json:"successful_reports"`
	FailedReports     int            `json:"failed_reports"`
	TotalFiles        int            `json:"total_files"`
	Results           []ReportResult `json:"results"`
}

// ReportResult contains the outcome of reading and parsing one report
type ReportResult struct {
	Report    string `json:"report"`
	InputHash string `json:"input_hash,omitempty"`
	Success   bool   `json:"success"`
	Sections  int    `json:"sections"`
	Error     string `json:"error,omitempty"`
}

// Save writes the summary as indented JSON to path. When path is a directory
// a timestamped file name is used.
func (s *CollectionSummary) Save(path string) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, fmt.Sprintf("collection-summary-%s.json", time.Now().Format("20060102-150405")))
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write summary file: %w", err)
	}

	return path, nil
}

// LoadCollectionSummary reads a summary written by Save
func LoadCollectionSummary(path string) (*CollectionSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary file: %w", err)
	}

	var summary CollectionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}

	return &summary, nil
}
