package pool

import (
	"context"
	"strings"
	"testing"

	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
)

func TestUnsupportedTypes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  config.Config
		open func(*config.Config) error
		want string
	}{
		{
			name: "source",
			cfg:  config.Config{Source: config.SourceConfig{Type: "oracle"}},
			open: func(c *config.Config) error { _, err := NewSourcePool(ctx, c); return err },
			want: "unsupported source type: oracle",
		},
		{
			name: "staging",
			cfg:  config.Config{Staging: config.StagingConfig{Type: "gcs"}},
			open: func(c *config.Config) error { _, err := NewStageStore(ctx, c); return err },
			want: "unsupported staging type: gcs",
		},
		{
			name: "warehouse",
			cfg:  config.Config{Warehouse: config.WarehouseConfig{Type: "snowflake"}},
			open: func(c *config.Config) error { _, err := NewWarehousePool(ctx, c, nil); return err },
			want: "unsupported warehouse type: snowflake",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.open(&tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNewStageStoreLocal(t *testing.T) {
	cfg := &config.Config{Staging: config.StagingConfig{Type: "local", Dir: t.TempDir()}}
	store, err := NewStageStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewStageStore error: %v", err)
	}
	if _, ok := store.(*stage.LocalStore); !ok {
		t.Errorf("store = %T, want *stage.LocalStore", store)
	}
}
