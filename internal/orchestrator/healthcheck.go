package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/warehouse"
)

// HealthCheckResult reports connectivity to both ends of a run.
type HealthCheckResult struct {
	Timestamp          string `json:"timestamp"`
	SourceDBType       string `json:"source_db_type"`
	WarehouseFlavor    string `json:"warehouse_flavor"`
	SourceConnected    bool   `json:"source_connected"`
	SourceLatencyMs    int64  `json:"source_latency_ms"`
	SourceTableCount   int    `json:"source_table_count"`
	SourceError        string `json:"source_error,omitempty"`
	WarehouseConnected bool   `json:"warehouse_connected"`
	WarehouseLatencyMs int64  `json:"warehouse_latency_ms"`
	WarehouseError     string `json:"warehouse_error,omitempty"`
	Healthy            bool   `json:"healthy"`
}

// HealthCheck tests connectivity to the source and the warehouse.
// Both checks run in parallel with independent timeouts so one slow
// connection does not use up the other's budget.
func (o *Orchestrator) HealthCheck(ctx context.Context) *HealthCheckResult {
	result := &HealthCheckResult{
		Timestamp:       time.Now().Format(time.RFC3339),
		SourceDBType:    o.src.DBType(),
		WarehouseFlavor: string(o.wh.Flavor()),
	}

	const checkTimeout = 30 * time.Second

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		tables, err := o.reflector.ListSourceTables(sctx)
		if err != nil {
			result.SourceError = err.Error()
		} else {
			result.SourceConnected = true
			result.SourceTableCount = len(tables)
		}
		result.SourceLatencyMs = time.Since(start).Milliseconds()
	}()

	go func() {
		defer wg.Done()
		start := time.Now()
		wctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if err := o.wh.Exec(wctx, "SELECT 1"); err != nil {
			result.WarehouseError = err.Error()
		} else {
			result.WarehouseConnected = true
		}
		result.WarehouseLatencyMs = time.Since(start).Milliseconds()
	}()

	wg.Wait()

	result.Healthy = result.SourceConnected && result.WarehouseConnected
	return result
}

// TablePlan previews how one source table will be loaded.
type TablePlan struct {
	Table       string
	Destination string
	Rows        int64
	Exists      bool   // destination already present
	DDL         string // CREATE TABLE used when the destination is absent
	Err         error
}

// Plan lists the tables a run would load without moving any data.
func (o *Orchestrator) Plan(ctx context.Context) ([]TablePlan, error) {
	tables, err := o.reflector.ListSourceTables(ctx)
	if err != nil {
		return nil, err
	}

	plans := make([]TablePlan, 0, len(tables))
	taken := destinationOwners(tables)
	for i, t := range tables {
		plan := TablePlan{Table: t.FullName()}
		plan.Destination, plan.Err = warehouse.DestinationName(t.Name)
		if owner, ok := taken[i]; ok {
			plan.Err = fmt.Errorf("same destination as %s: %w", tables[owner].FullName(), ErrDestinationTaken)
		}
		if plan.Err != nil {
			plans = append(plans, plan)
			continue
		}

		if n, err := o.src.RowCount(ctx, t); err != nil {
			log.Warn("row count for %s: %v (assuming 0)", t.FullName(), err)
		} else {
			plan.Rows = n
		}

		cols, err := o.reflector.ListSourceColumns(ctx, t)
		if err != nil {
			plan.Err = err
			plans = append(plans, plan)
			continue
		}
		if _, plan.Exists, err = o.reflector.DestinationTableExists(ctx, plan.Destination); err != nil {
			plan.Err = err
		}
		if len(cols) > 0 {
			plan.DDL = warehouse.CreateTableSQL(o.reflector.DestinationSchema(), plan.Destination,
				o.reflector.DestinationColumns(cols))
		}
		plans = append(plans, plan)
	}
	return plans, nil
}
