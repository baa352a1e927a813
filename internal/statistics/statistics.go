package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains counters for image normalization runs.
type Statistics struct {
	RunsStarted   int64
	RunsSucceeded int64
	RunsFailed    int64

	Resized    int64
	Rotated    int64
	Subsampled int64

	BytesRead    int64
	BytesWritten int64

	// Cumulative time spent inside runs, in nanoseconds.
	ProcessingNanos int64

	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	ImagesPerSecond float64
	AverageOutput   int64

	Errors []StatError

	mutex sync.RWMutex

	FailuresByKind map[string]int64
	FormatStats    map[string]int64
}

// StatError represents a failed run.
type StatError struct {
	Source    string
	Stage     string
	Kind      string
	Error     string
	Timestamp time.Time
}

// Snapshot is a point-in-time copy of the counters, safe to serialize.
type Snapshot struct {
	RunsStarted    int64            `json:"runs_started"`
	RunsSucceeded  int64            `json:"runs_succeeded"`
	RunsFailed     int64            `json:"runs_failed"`
	Resized        int64            `json:"resized"`
	Rotated        int64            `json:"rotated"`
	Subsampled     int64            `json:"subsampled"`
	BytesRead      int64            `json:"bytes_read"`
	BytesWritten   int64            `json:"bytes_written"`
	AverageRunMs   float64          `json:"average_run_ms"`
	FailuresByKind map[string]int64 `json:"failures_by_kind"`
	Formats        map[string]int64 `json:"formats"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:      time.Now(),
		Errors:         make([]StatError, 0),
		FailuresByKind: make(map[string]int64),
		FormatStats:    make(map[string]int64),
	}
}

// IncrementRunsStarted increases the count of started runs by 1.
func (s *Statistics) IncrementRunsStarted() {
	atomic.AddInt64(&s.RunsStarted, 1)
}

// RecordSuccess records a finished run that wrote bytesOut bytes.
func (s *Statistics) RecordSuccess(bytesOut int64, elapsed time.Duration) {
	atomic.AddInt64(&s.RunsSucceeded, 1)
	atomic.AddInt64(&s.BytesWritten, bytesOut)
	atomic.AddInt64(&s.ProcessingNanos, int64(elapsed))
}

// RecordFailure records a failed run and keeps the cause for the error summary.
func (s *Statistics) RecordFailure(source, stage, kind, errorMsg string, elapsed time.Duration) {
	atomic.AddInt64(&s.RunsFailed, 1)
	atomic.AddInt64(&s.ProcessingNanos, int64(elapsed))

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FailuresByKind[kind]++
	s.Errors = append(s.Errors, StatError{
		Source:    source,
		Stage:     stage,
		Kind:      kind,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// IncrementResized increases the count of resized images by 1.
func (s *Statistics) IncrementResized() {
	atomic.AddInt64(&s.Resized, 1)
}

// IncrementRotated increases the count of rotated images by 1.
func (s *Statistics) IncrementRotated() {
	atomic.AddInt64(&s.Rotated, 1)
}

// IncrementSubsampled increases the count of images decoded with a step above 1.
func (s *Statistics) IncrementSubsampled() {
	atomic.AddInt64(&s.Subsampled, 1)
}

// AddBytesRead adds the encoded size of a source.
func (s *Statistics) AddBytesRead(bytes int64) {
	atomic.AddInt64(&s.BytesRead, bytes)
}

// IncrementFormat increases the count for a source format by 1.
func (s *Statistics) IncrementFormat(format string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[format]++
}

// Finalize calculates duration, throughput and average output size.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	succeeded := atomic.LoadInt64(&s.RunsSucceeded)
	written := atomic.LoadInt64(&s.BytesWritten)

	if s.Duration.Seconds() > 0 {
		s.ImagesPerSecond = float64(succeeded) / s.Duration.Seconds()
	}
	if succeeded > 0 {
		s.AverageOutput = written / succeeded
	}
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snap := Snapshot{
		RunsStarted:    atomic.LoadInt64(&s.RunsStarted),
		RunsSucceeded:  atomic.LoadInt64(&s.RunsSucceeded),
		RunsFailed:     atomic.LoadInt64(&s.RunsFailed),
		Resized:        atomic.LoadInt64(&s.Resized),
		Rotated:        atomic.LoadInt64(&s.Rotated),
		Subsampled:     atomic.LoadInt64(&s.Subsampled),
		BytesRead:      atomic.LoadInt64(&s.BytesRead),
		BytesWritten:   atomic.LoadInt64(&s.BytesWritten),
		FailuresByKind: make(map[string]int64, len(s.FailuresByKind)),
		Formats:        make(map[string]int64, len(s.FormatStats)),
	}
	if done := snap.RunsSucceeded + snap.RunsFailed; done > 0 {
		nanos := atomic.LoadInt64(&s.ProcessingNanos)
		snap.AverageRunMs = float64(nanos) / float64(done) / float64(time.Millisecond)
	}
	for k, v := range s.FailuresByKind {
		snap.FailuresByKind[k] = v
	}
	for k, v := range s.FormatStats {
		snap.Formats[k] = v
	}
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	perSecond := s.ImagesPerSecond
	avg := s.AverageOutput
	s.mutex.RUnlock()

	return fmt.Sprintf(`Image Picker Statistics Summary:

Runs:
		Started: %d
		Succeeded: %d
		Failed: %d

Transforms:
		Resized: %d
		Rotated: %d
		Subsampled: %d

Performance:
		Duration: %v
		Images/Second: %.2f
		Bytes Read: %s
		Bytes Written: %s
		Average Output Size: %s`,
		atomic.LoadInt64(&s.RunsStarted),
		atomic.LoadInt64(&s.RunsSucceeded),
		atomic.LoadInt64(&s.RunsFailed),
		atomic.LoadInt64(&s.Resized),
		atomic.LoadInt64(&s.Rotated),
		atomic.LoadInt64(&s.Subsampled),
		duration,
		perSecond,
		formatBytes(atomic.LoadInt64(&s.BytesRead)),
		formatBytes(atomic.LoadInt64(&s.BytesWritten)),
		formatBytes(avg))
}

// GetFormatBreakdown returns a formatted breakdown of source formats.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	formats := make([]string, 0, len(s.FormatStats))
	for f := range s.FormatStats {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	result := "Format Breakdown:\n"
	for _, f := range formats {
		result += fmt.Sprintf("  %s: %d\n", f, s.FormatStats[f])
	}
	return result
}

// GetErrorSummary returns a summary of failed runs.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s/%s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Stage,
			err.Kind,
			err.Source,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetRunsSucceeded returns the number of successful runs.
func (s *Statistics) GetRunsSucceeded() int64 {
	return atomic.LoadInt64(&s.RunsSucceeded)
}

// GetRunsFailed returns the number of failed runs.
func (s *Statistics) GetRunsFailed() int64 {
	return atomic.LoadInt64(&s.RunsFailed)
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}
