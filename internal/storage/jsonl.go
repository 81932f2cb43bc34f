package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"arbtrader/internal/model"
)

// JsonlExporter writes trader metrics to a JSONL file, one record per line.
type JsonlExporter struct {
	path string
	mu   sync.Mutex
}

func NewJsonlExporter(path string) *JsonlExporter {
	return &JsonlExporter{path: path}
}

// WriteMetrics appends a batch of trader metrics as JSON lines.
func (e *JsonlExporter) WriteMetrics(metrics []model.TraderMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	dir := filepath.Dir(e.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, metric := range metrics {
		line, err := json.Marshal(metric)
		if err != nil {
			return fmt.Errorf("marshal metric: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write metric: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
