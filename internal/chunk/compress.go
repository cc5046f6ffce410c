package chunk

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Compress gzips the file at path into path+".gz" and removes path. The
// gzip header carries no name or timestamp, so equal input gives equal
// output. On any failure the original file is left in place.
func Compress(ctx context.Context, path string, level int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := path + ".gz"
	tmp := dst + ".tmp"

	if err := compressTo(path, tmp, level); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming %s: %w", tmp, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing %s: %w", path, err)
	}
	return dst, nil
}

func compressTo(src, dst string, level int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	zw, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		out.Close()
		return fmt.Errorf("gzip level %d: %w", level, err)
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		return fmt.Errorf("compressing %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finishing %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	return out.Close()
}

// NewReader wraps r in a gzip decompressor.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// Decompress returns the decompressed content of a .gz file.
func Decompress(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading gzip header of %s: %w", path, err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
