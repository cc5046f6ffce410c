package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
)

// MockTable is one table served by MockSource.
type MockTable struct {
	Table   Table
	Columns []Column
	Rows    [][]any

	// FailAfter makes the cursor fail with StreamErr once that many rows
	// have been read. Negative or zero with a nil StreamErr disables it.
	FailAfter int
	StreamErr error
}

// MockSource is an in-memory source for tests.
type MockSource struct {
	Type   string
	Tables []*MockTable

	ListErr    error
	ColumnsErr error

	// Gate, when set, blocks StreamRows until it is closed or ctx ends.
	Gate chan struct{}

	mu       sync.Mutex
	streamed []string
	open     atomic.Int32
	Closed   bool
}

// AddTable registers a table and returns it for further setup.
func (m *MockSource) AddTable(schema, name string, cols []Column, rows [][]any) *MockTable {
	for i := range cols {
		if cols[i].OrdinalPos == 0 {
			cols[i].OrdinalPos = i + 1
		}
	}
	mt := &MockTable{Table: Table{Schema: schema, Name: name}, Columns: cols, Rows: rows}
	m.Tables = append(m.Tables, mt)
	return mt
}

func (m *MockSource) find(t Table) (*MockTable, error) {
	for _, mt := range m.Tables {
		if mt.Table == t {
			return mt, nil
		}
	}
	return nil, fmt.Errorf("table %s not found", t.FullName())
}

func (m *MockSource) Close() error {
	m.Closed = true
	return nil
}

func (m *MockSource) DBType() string {
	if m.Type == "" {
		return "mssql"
	}
	return m.Type
}

func (m *MockSource) ListTables(_ context.Context, schema string) ([]Table, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []Table
	for _, mt := range m.Tables {
		if mt.Table.Schema == schema {
			out = append(out, mt.Table)
		}
	}
	return out, nil
}

func (m *MockSource) ListColumns(_ context.Context, t Table) ([]Column, error) {
	if m.ColumnsErr != nil {
		return nil, m.ColumnsErr
	}
	mt, err := m.find(t)
	if err != nil {
		return nil, err
	}
	cols := append([]Column(nil), mt.Columns...)
	for i := range cols {
		cols[i].DataType = typemap.Canonical(m.DBType(), cols[i].DataType)
	}
	return cols, nil
}

func (m *MockSource) RowCount(_ context.Context, t Table) (int64, error) {
	mt, err := m.find(t)
	if err != nil {
		return 0, err
	}
	return int64(len(mt.Rows)), nil
}

func (m *MockSource) StreamRows(ctx context.Context, t Table, cols []Column) (RowCursor, error) {
	mt, err := m.find(t)
	if err != nil {
		return nil, err
	}
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	m.streamed = append(m.streamed, t.Name)
	m.mu.Unlock()
	m.open.Add(1)
	return &mockCursor{ctx: ctx, table: mt, width: len(cols), pos: -1, src: m}, nil
}

// Streamed returns the tables whose rows were requested, in call order.
func (m *MockSource) Streamed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.streamed...)
}

// OpenCursors returns the number of cursors not yet closed.
func (m *MockSource) OpenCursors() int {
	return int(m.open.Load())
}

type mockCursor struct {
	ctx    context.Context
	table  *MockTable
	width  int
	pos    int
	err    error
	closed bool
	src    *MockSource
}

func (c *mockCursor) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	next := c.pos + 1
	if c.table.StreamErr != nil && next >= c.table.FailAfter {
		c.err = c.table.StreamErr
		return false
	}
	if next >= len(c.table.Rows) {
		return false
	}
	c.pos = next
	return true
}

func (c *mockCursor) Values() ([]any, error) {
	if c.pos < 0 || c.pos >= len(c.table.Rows) {
		return nil, fmt.Errorf("cursor not positioned on a row")
	}
	row := c.table.Rows[c.pos]
	if len(row) != c.width {
		return nil, fmt.Errorf("row %d has %d values, want %d", c.pos, len(row), c.width)
	}
	return append([]any(nil), row...), nil
}

func (c *mockCursor) Err() error { return c.err }

func (c *mockCursor) Close() error {
	if !c.closed {
		c.closed = true
		c.src.open.Add(-1)
	}
	return nil
}
