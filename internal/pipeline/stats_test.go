package pipeline

import (
	"strings"
	"testing"
	"time"
)

func TestStats_String(t *testing.T) {
	tests := []struct {
		name     string
		stats    Stats
		contains []string
	}{
		{
			name:     "empty stats",
			stats:    Stats{},
			contains: []string{"no data"},
		},
		{
			name: "balanced times",
			stats: Stats{
				ExportTime: time.Second,
				LoadTime:   time.Second,
				SwapTime:   time.Second,
				Rows:       1000,
				Chunks:     2,
			},
			contains: []string{"export=1.0s (33%", "load=1.0s (33%)", "rows=1000", "chunks=2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.stats.String()
			for _, want := range tt.contains {
				if !strings.Contains(result, want) {
					t.Errorf("String() = %q, missing %q", result, want)
				}
			}
		})
	}
}

func TestStats_TotalTime(t *testing.T) {
	stats := Stats{
		ExportTime: time.Second,
		StageTime:  500 * time.Millisecond,
		LoadTime:   2 * time.Second,
		SwapTime:   3 * time.Second,
	}

	total := stats.TotalTime()
	expected := 6 * time.Second

	if total != expected {
		t.Errorf("TotalTime() = %v, want %v", total, expected)
	}
}

func TestStats_RowsPerSecond(t *testing.T) {
	tests := []struct {
		name     string
		stats    Stats
		expected float64
	}{
		{
			name:     "zero time",
			stats:    Stats{Rows: 1000},
			expected: 0,
		},
		{
			name: "one second",
			stats: Stats{
				ExportTime: time.Second,
				Rows:       1000,
			},
			expected: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.stats.RowsPerSecond()
			if result != tt.expected {
				t.Errorf("RowsPerSecond() = %v, want %v", result, tt.expected)
			}
		})
	}
}
