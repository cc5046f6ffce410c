// Package stage moves compressed chunk artifacts into the staging area the
// warehouse bulk-loads from: an S3 bucket or a local directory.
package stage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Store is a flat key/value object store. Keys use forward slashes.
type Store interface {
	// Put uploads the file at localPath under key.
	Put(ctx context.Context, localPath, key string) error
	// Open returns a reader for key's content.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the keys that start with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeletePrefix removes every key under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// URI returns the external location of key, e.g. s3://bucket/key.
	URI(key string) string
}

// TablePrefix returns the per-run, per-table namespace, ending in "/" so a
// table's prefix never matches another table whose name extends it.
func TablePrefix(base, runID, table string) string {
	parts := []string{}
	if b := strings.Trim(base, "/"); b != "" {
		parts = append(parts, b)
	}
	parts = append(parts, runID, table)
	return path.Join(parts...) + "/"
}

// ArtifactName is the staged file name of a compressed chunk.
func ArtifactName(table string, seq int) string {
	return fmt.Sprintf("%s_chunk_%05d.csv.gz", table, seq)
}
