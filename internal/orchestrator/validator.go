package orchestrator

import (
	"context"
	"fmt"

	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
	"github.com/johndauphine/mssql-warehouse-loader/internal/source"
	"github.com/johndauphine/mssql-warehouse-loader/internal/warehouse"
)

// ValidationResult compares source and destination row counts for one table.
type ValidationResult struct {
	Table       string
	Destination string
	SourceRows  int64
	DestRows    int64
	Err         error
}

// OK reports whether both counts were read and match.
func (v ValidationResult) OK() bool {
	return v.Err == nil && v.SourceRows == v.DestRows
}

// Validate checks row counts between the source and the warehouse for every
// selected table. It returns an error when any table does not match.
func (o *Orchestrator) Validate(ctx context.Context) ([]ValidationResult, error) {
	tables, err := o.reflector.ListSourceTables(ctx)
	if err != nil {
		return nil, err
	}

	logging.Info("Validation Results:")
	logging.Info("-------------------")

	results := make([]ValidationResult, 0, len(tables))
	var failed int
	for _, t := range tables {
		v := o.validateTable(ctx, t)
		switch {
		case v.Err != nil:
			logging.Error("%-30s ERROR %v", v.Table, v.Err)
		case v.OK():
			logging.Info("%-30s OK %d rows", v.Table, v.DestRows)
		default:
			logging.Error("%-30s FAIL source=%d warehouse=%d (diff=%d)",
				v.Table, v.SourceRows, v.DestRows, v.SourceRows-v.DestRows)
		}
		if !v.OK() {
			failed++
		}
		results = append(results, v)
	}

	if failed > 0 {
		return results, fmt.Errorf("validation failed: %d of %d tables have row count mismatches", failed, len(tables))
	}
	return results, nil
}

func (o *Orchestrator) validateTable(ctx context.Context, t source.Table) ValidationResult {
	v := ValidationResult{Table: t.FullName()}

	dest, err := warehouse.DestinationName(t.Name)
	if err != nil {
		v.Err = err
		return v
	}
	v.Destination = dest

	if v.SourceRows, err = o.src.RowCount(ctx, t); err != nil {
		v.Err = fmt.Errorf("source count: %w", err)
		return v
	}

	actual, exists, err := o.reflector.DestinationTableExists(ctx, dest)
	if err != nil {
		v.Err = err
		return v
	}
	if !exists {
		v.Err = fmt.Errorf("destination %s.%s does not exist", o.reflector.DestinationSchema(), dest)
		return v
	}
	if v.DestRows, err = o.wh.RowCount(ctx, o.reflector.DestinationSchema(), actual); err != nil {
		v.Err = fmt.Errorf("warehouse count: %w", err)
	}
	return v
}
