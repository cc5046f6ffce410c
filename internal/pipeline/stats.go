package pipeline

import (
	"fmt"
	"time"
)

// Stats breaks a table's wall time down by stage.
type Stats struct {
	ExportTime time.Duration // reading the source and writing chunks
	StageTime  time.Duration // compressing and uploading chunks
	LoadTime   time.Duration
	SwapTime   time.Duration
	Rows       int64
	Chunks     int
	Bytes      int64 // uncompressed chunk bytes
}

// TotalTime returns the time spent in all stages.
func (s Stats) TotalTime() time.Duration {
	return s.ExportTime + s.LoadTime + s.SwapTime
}

// RowsPerSecond returns export throughput.
func (s Stats) RowsPerSecond() float64 {
	total := s.TotalTime()
	if total <= 0 {
		return 0
	}
	return float64(s.Rows) / total.Seconds()
}

// String returns a one-line breakdown, e.g. for debug logs.
func (s Stats) String() string {
	total := s.TotalTime()
	if total == 0 {
		return "no data"
	}
	pct := func(d time.Duration) int {
		return int(float64(d) / float64(total) * 100)
	}
	return fmt.Sprintf("export=%.1fs (%d%%, staging %.1fs), load=%.1fs (%d%%), swap=%.1fs (%d%%), rows=%d, chunks=%d",
		s.ExportTime.Seconds(), pct(s.ExportTime), s.StageTime.Seconds(),
		s.LoadTime.Seconds(), pct(s.LoadTime),
		s.SwapTime.Seconds(), pct(s.SwapTime),
		s.Rows, s.Chunks)
}
