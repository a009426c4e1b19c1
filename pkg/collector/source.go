package collector

import (
	"context"
	"fmt"
	"os"
)

// ReportSource supplies the raw bytes of one coverage report. The locator is
// opaque to the collector and only used to label results.
type ReportSource interface {
	Locator() string
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads a report from the local filesystem
type FileSource string

func (f FileSource) Locator() string {
	return string(f)
}

func (f FileSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Files wraps report paths as sources, keeping their order
func Files(paths []string) []ReportSource {
	sources := make([]ReportSource, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, FileSource(p))
	}
	return sources
}

// BytesSource serves an in-memory report
type BytesSource struct {
	Name string
	Data []byte
}

func (b BytesSource) Locator() string {
	return b.Name
}

func (b BytesSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Data, nil
}
