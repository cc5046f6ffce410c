package pool

import (
	"context"
	"fmt"

	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
	"github.com/johndauphine/mssql-warehouse-loader/internal/source"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
	"github.com/johndauphine/mssql-warehouse-loader/internal/warehouse"
)

// NewSourcePool creates a source pool based on the configuration type.
func NewSourcePool(ctx context.Context, cfg *config.Config) (SourcePool, error) {
	switch cfg.Source.Type {
	case "", "mssql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported source type: %s (available: mssql, postgres)", cfg.Source.Type)
	}
	p, err := source.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewStageStore creates the staging area named by cfg.Staging.
func NewStageStore(ctx context.Context, cfg *config.Config) (stage.Store, error) {
	switch cfg.Staging.Type {
	case "local":
		s, err := stage.NewLocalStore(cfg.Staging.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", "s3":
		s, err := stage.NewS3Store(ctx, cfg.Staging)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported staging type: %s (available: s3, local)", cfg.Staging.Type)
	}
}

// NewWarehousePool creates a warehouse pool that loads from store.
func NewWarehousePool(ctx context.Context, cfg *config.Config, store stage.Store) (WarehousePool, error) {
	switch cfg.Warehouse.Type {
	case "", "postgres", "redshift":
	default:
		return nil, fmt.Errorf("unsupported warehouse type: %s (available: postgres, redshift)", cfg.Warehouse.Type)
	}
	p, err := warehouse.NewPool(ctx, cfg, store)
	if err != nil {
		return nil, err
	}
	return p, nil
}
