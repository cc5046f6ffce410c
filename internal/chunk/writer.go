// Package chunk splits a table's row stream into size-bounded,
// header-prefixed CSV files and compresses them for staging.
package chunk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// DefaultMaxBytes is the default chunk budget.
const DefaultMaxBytes = 64 << 20

// Chunk is one flushed row group on local disk.
type Chunk struct {
	Sequence   int
	LocalPath  string
	RowCount   int
	ByteSize   int64
	Compressed bool
}

// Sink receives each chunk as soon as it is flushed. The writer does not
// accept further rows until the sink returns.
type Sink func(Chunk) error

// Options configures a Writer.
type Options struct {
	Dir      string   // directory for chunk files; created if missing
	Table    string   // used in file names
	Columns  []string // header line
	MaxBytes int64    // budget per chunk including the header
	Binary   BinaryFormat
	Sink     Sink
}

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("chunk writer closed")

// Writer buffers at most one chunk in memory. It is not safe for concurrent use.
type Writer struct {
	opts   Options
	header []byte
	buf    []byte
	rows   int
	seq    int
	chunks []Chunk
	total  int
	busy   atomic.Bool
	closed bool
	row    []byte
}

// NewWriter validates opts and creates the chunk directory.
func NewWriter(opts Options) (*Writer, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Table == "" {
		return nil, fmt.Errorf("chunk writer: table name required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating chunk dir %s: %w", opts.Dir, err)
	}
	w := &Writer{opts: opts}
	if len(opts.Columns) > 0 {
		w.header = encodeHeader(nil, opts.Columns)
	}
	return w, nil
}

// Busy reports whether the writer is flushing a chunk (including the sink call).
func (w *Writer) Busy() bool {
	return w.busy.Load()
}

// Write appends one row. If the row does not fit in the open chunk, the
// open chunk is flushed first. A row larger than the whole budget is
// written alone into its own chunk.
func (w *Writer) Write(row []any) error {
	if w.closed {
		return ErrClosed
	}
	if len(w.opts.Columns) == 0 {
		// No columns means nothing to load; rows are dropped.
		return nil
	}
	if len(row) != len(w.opts.Columns) {
		return fmt.Errorf("row has %d values, expected %d", len(row), len(w.opts.Columns))
	}

	w.row = encodeRow(w.row[:0], row, w.opts.Binary)
	size := int64(len(w.header) + len(w.buf) + len(w.row))
	if w.rows > 0 && size > w.opts.MaxBytes {
		if err := w.flush(); err != nil {
			return err
		}
	}
	w.buf = append(w.buf, w.row...)
	w.rows++
	w.total++
	return nil
}

// Close flushes any partial chunk. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.rows == 0 {
		return nil
	}
	return w.flush()
}

// Discard drops the open chunk without flushing it and closes the writer.
// It returns the number of buffered rows that were dropped.
func (w *Writer) Discard() int {
	dropped := w.rows
	w.closed = true
	w.buf = w.buf[:0]
	w.rows = 0
	w.total -= dropped
	return dropped
}

// Chunks returns the chunks flushed so far, in sequence order.
func (w *Writer) Chunks() []Chunk {
	return w.chunks
}

// Rows returns the number of rows accepted.
func (w *Writer) Rows() int {
	return w.total
}

func (w *Writer) flush() error {
	w.busy.Store(true)
	defer w.busy.Store(false)

	w.seq++
	name := fmt.Sprintf("%s_chunk_%05d.csv", w.opts.Table, w.seq)
	path := filepath.Join(w.opts.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk %s: %w", path, err)
	}
	n1, err := f.Write(w.header)
	if err == nil {
		var n2 int
		n2, err = f.Write(w.buf)
		n1 += n2
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("writing chunk %s: %w", path, err)
	}

	c := Chunk{
		Sequence:  w.seq,
		LocalPath: path,
		RowCount:  w.rows,
		ByteSize:  int64(n1),
	}
	w.chunks = append(w.chunks, c)
	w.buf = w.buf[:0]
	w.rows = 0

	if w.opts.Sink != nil {
		if err := w.opts.Sink(c); err != nil {
			return err
		}
	}
	return nil
}
