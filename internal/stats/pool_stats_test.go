package stats

import "testing"

func TestPoolStatsString(t *testing.T) {
	tests := []struct {
		name string
		s    PoolStats
		want string
	}{
		{"no waits", PoolStats{Name: "mssql", MaxConns: 12, ActiveConns: 3, IdleConns: 2}, "mssql: 3/12 active, 2 idle, 0 waits (0.0ms avg)"},
		{"average wait", PoolStats{Name: "redshift", MaxConns: 4, ActiveConns: 4, WaitCount: 4, WaitTimeMs: 10}, "redshift: 4/4 active, 0 idle, 4 waits (2.5ms avg)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
