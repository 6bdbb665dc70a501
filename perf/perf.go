// Package perf is an append-only NDJSON log of patch operation metrics with
// rollup reporting.
package perf

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Strategy names recorded in metrics.
const (
	StrategyRemote = "remote"
	StrategyLocal  = "local"
)

// DiffMetric is one patch attempt. Records are append-only and never mutated.
type DiffMetric struct {
	Timestamp       time.Time `json:"timestamp"`
	Strategy        string    `json:"strategy"`
	File            string    `json:"file"`
	FileSizeBytes   int       `json:"file_size_bytes"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	OriginalLength  int       `json:"original_length"`
	UpdatedLength   int       `json:"updated_length"`
	FallbackUsed    bool      `json:"fallback_used"`
	FallbackReason  string    `json:"fallback_reason,omitempty"`
}

// StrategyReport aggregates metrics for one strategy inside a window.
type StrategyReport struct {
	Strategy     string  `json:"strategy"`
	Count        int     `json:"count"`
	Successes    int     `json:"successes"`
	SuccessRate  float64 `json:"success_rate"`
	MeanMS       float64 `json:"mean_ms"`
	MedianMS     float64 `json:"median_ms"`
	FallbackRate float64 `json:"fallback_rate"`
	MeanFileSize float64 `json:"mean_file_size"`
}

// Report is a windowed rollup grouped by strategy.
type Report struct {
	Window     time.Duration    `json:"window"`
	Total      int              `json:"total"`
	Strategies []StrategyReport `json:"strategies"`
}

// Tracker appends DiffMetric records to an NDJSON file. Writes are serialized
// by a single mutex; reads scan the file and keep the most recent records.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// NewTracker creates a tracker writing to path, creating parent directories
// as needed.
func NewTracker(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("perf: create metrics dir: %w", err)
	}
	return &Tracker{path: path}, nil
}

// Path returns the metrics file location.
func (t *Tracker) Path() string { return t.path }

// Record appends one metric to the log.
func (t *Tracker) Record(m DiffMetric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("perf: marshal metric: %w", err)
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("perf: open metrics log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("perf: append metric: %w", err)
	}
	return nil
}

// Query returns up to max records not older than since (zero means no lower
// bound), most recent last. Unparseable lines are skipped.
func (t *Tracker) Query(since time.Time, max int) ([]DiffMetric, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("perf: open metrics log: %w", err)
	}
	defer f.Close()

	var out []DiffMetric
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var m DiffMetric
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue
		}
		if !since.IsZero() && m.Timestamp.Before(since) {
			continue
		}
		out = append(out, m)
		// Keep only the tail.
		if max > 0 && len(out) > max {
			out = out[len(out)-max:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("perf: scan metrics log: %w", err)
	}
	return out, nil
}

// ReportWindow rolls up the records inside the trailing window, grouped by
// strategy.
func (t *Tracker) ReportWindow(window time.Duration) (Report, error) {
	since := time.Time{}
	if window > 0 {
		since = time.Now().Add(-window)
	}
	records, err := t.Query(since, 0)
	if err != nil {
		return Report{}, err
	}

	byStrategy := make(map[string][]DiffMetric)
	for _, m := range records {
		byStrategy[m.Strategy] = append(byStrategy[m.Strategy], m)
	}

	rep := Report{Window: window, Total: len(records)}
	names := make([]string, 0, len(byStrategy))
	for name := range byStrategy {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ms := byStrategy[name]
		sr := StrategyReport{Strategy: name, Count: len(ms)}
		times := make([]float64, 0, len(ms))
		var fallbacks int
		var sizeSum float64
		for _, m := range ms {
			if m.Success {
				sr.Successes++
			}
			if m.FallbackUsed {
				fallbacks++
			}
			times = append(times, float64(m.ExecutionTimeMS))
			sizeSum += float64(m.FileSizeBytes)
		}
		sr.SuccessRate = float64(sr.Successes) / float64(len(ms))
		sr.FallbackRate = float64(fallbacks) / float64(len(ms))
		sr.MeanMS = mean(times)
		sr.MedianMS = median(times)
		sr.MeanFileSize = sizeSum / float64(len(ms))
		rep.Strategies = append(rep.Strategies, sr)
	}
	return rep, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
