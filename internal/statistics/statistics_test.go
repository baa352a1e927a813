package statistics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatistics_ConcurrentCounters(t *testing.T) {
	s := NewStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.IncrementRunsStarted()
			if i%5 == 0 {
				s.RecordFailure("img.jpg", "decode", "decode_failed", "boom", time.Millisecond)
				return
			}
			s.RecordSuccess(100, time.Millisecond)
			s.IncrementFormat("jpeg")
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(50), snap.RunsStarted)
	assert.Equal(t, int64(40), snap.RunsSucceeded)
	assert.Equal(t, int64(10), snap.RunsFailed)
	assert.Equal(t, int64(4000), snap.BytesWritten)
	assert.Equal(t, int64(10), snap.FailuresByKind["decode_failed"])
	assert.Equal(t, int64(40), snap.Formats["jpeg"])
	assert.InDelta(t, 1.0, snap.AverageRunMs, 0.001)
}

func TestStatistics_SnapshotIsACopy(t *testing.T) {
	s := NewStatistics()
	s.RecordFailure("a", "probe", "unreadable_source", "missing", 0)

	snap := s.Snapshot()
	snap.FailuresByKind["unreadable_source"] = 99

	assert.Equal(t, int64(1), s.Snapshot().FailuresByKind["unreadable_source"])
}

func TestStatistics_Finalize(t *testing.T) {
	s := NewStatistics()
	s.StartTime = time.Now().Add(-2 * time.Second)
	s.RecordSuccess(3000, 0)
	s.RecordSuccess(1000, 0)

	s.Finalize()

	assert.Equal(t, int64(2000), s.AverageOutput)
	assert.Greater(t, s.ImagesPerSecond, 0.0)
	assert.GreaterOrEqual(t, s.GetDuration(), 2*time.Second)
}

func TestStatistics_Summaries(t *testing.T) {
	s := NewStatistics()
	assert.Equal(t, "No errors occurred during processing", s.GetErrorSummary())
	assert.Equal(t, "No format statistics available", s.GetFormatBreakdown())

	for i := 0; i < 12; i++ {
		s.RecordFailure("x.jpg", "encode", "write_failed", "disk full", 0)
	}
	s.IncrementFormat("png")
	s.IncrementFormat("jpeg")
	s.IncrementResized()
	s.Finalize()

	errs := s.GetErrorSummary()
	assert.Contains(t, errs, "Errors (12 total)")
	assert.Contains(t, errs, "encode/write_failed: x.jpg - disk full")
	assert.Contains(t, errs, "... and 2 more errors")

	breakdown := s.GetFormatBreakdown()
	require.Contains(t, breakdown, "jpeg: 1")
	assert.Less(t, strings.Index(breakdown, "jpeg"), strings.Index(breakdown, "png"))

	summary := s.GetSummary()
	assert.Contains(t, summary, "Failed: 12")
	assert.Contains(t, summary, "Resized: 1")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
