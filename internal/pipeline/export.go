package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/chunk"
	"github.com/johndauphine/mssql-warehouse-loader/internal/source"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
	"golang.org/x/sync/errgroup"
)

// exportResult describes the artifacts staged for one table.
type exportResult struct {
	Rows   int64
	Chunks int
	Bytes  int64
	Keys   []string
}

// export streams t's rows into size-bounded chunks, compressing and
// uploading each one before the next row is accepted.
//
// A producer goroutine pulls rows off the source cursor and hands them over
// an unbuffered channel. The consumer does not receive while a chunk is
// being flushed, compressed and uploaded, so the producer blocks and the
// cursor stops advancing: memory stays at one chunk plus one row.
func (p *Pipeline) export(ctx context.Context, t source.Table, cols []source.Column, dest, dir, prefix string, stats *Stats) (*exportResult, error) {
	names := make([]string, len(cols))
	binary := chunk.BinaryPostgres
	if p.binaryHex {
		binary = chunk.BinaryHex
	}
	for i, c := range cols {
		names[i] = c.Name
	}

	res := &exportResult{}
	sink := func(c chunk.Chunk) error {
		start := time.Now()
		defer func() { stats.StageTime += time.Since(start) }()

		gz, err := chunk.Compress(ctx, c.LocalPath, p.cfg.CompressionLevel)
		if err != nil {
			return fmt.Errorf("compressing chunk %d: %w", c.Sequence, err)
		}
		key := path.Join(prefix, stage.ArtifactName(dest, c.Sequence))
		if err := p.uploader.Upload(ctx, gz, key); err != nil {
			return &uploadFailure{err: err}
		}
		res.Keys = append(res.Keys, key)
		res.Bytes += c.ByteSize
		p.prog.AddRows(int64(c.RowCount))
		log.Debug("%s: staged chunk %d (%d rows, %d bytes)", dest, c.Sequence, c.RowCount, c.ByteSize)
		return nil
	}

	w, err := chunk.NewWriter(chunk.Options{
		Dir:      dir,
		Table:    dest,
		Columns:  names,
		MaxBytes: p.cfg.ChunkMaxBytes,
		Binary:   binary,
		Sink:     sink,
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	rows := make(chan []any)
	var sourceFailed atomic.Bool

	cursor, err := p.src.StreamRows(gctx, t, cols)
	if err != nil {
		return nil, fmt.Errorf("starting export of %s: %w", t.FullName(), err)
	}
	defer cursor.Close()

	g.Go(func() error {
		defer close(rows)
		for cursor.Next() {
			vals, err := cursor.Values()
			if err != nil {
				sourceFailed.Store(true)
				return fmt.Errorf("reading row of %s: %w", t.FullName(), err)
			}
			select {
			case rows <- vals:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := cursor.Err(); err != nil {
			sourceFailed.Store(true)
			return fmt.Errorf("reading %s: %w", t.FullName(), err)
		}
		return nil
	})

	g.Go(func() error {
		for row := range rows {
			if err := w.Write(row); err != nil {
				return err
			}
		}
		if sourceFailed.Load() {
			if n := w.Discard(); n > 0 {
				log.Debug("%s: discarded %d buffered rows after source error", dest, n)
			}
			return nil
		}
		return w.Close()
	})

	err = g.Wait()
	res.Rows = int64(w.Rows())
	res.Chunks = len(res.Keys)
	if err != nil {
		w.Discard()
		return res, err
	}
	return res, nil
}

// isUploadFailure reports whether err came from staging an artifact.
func isUploadFailure(err error) bool {
	var u *uploadFailure
	return errors.As(err, &u)
}
