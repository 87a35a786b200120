// Package positions reads raw vessel position fixes from CSV or JSON Lines
// files, optionally gzip or zstd compressed.
package positions

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnknownFormat is returned when a file's format cannot be determined
// from its name.
var ErrUnknownFormat = errors.New("unknown position file format")

// Format is the record encoding of a position file.
type Format int

const (
	CSV Format = iota
	JSONL
)

func (f Format) String() string {
	switch f {
	case CSV:
		return "csv"
	case JSONL:
		return "jsonl"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Compression is the outer compression of a position file.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// DetectFormat infers format and compression from a file name such as
// "fixes.csv", "fixes.jsonl.zst" or "fixes.ndjson.gz".
func DetectFormat(path string) (Format, Compression, error) {
	name := strings.ToLower(filepath.Base(path))

	comp := None
	switch ext := filepath.Ext(name); ext {
	case ".gz":
		comp = Gzip
		name = strings.TrimSuffix(name, ext)
	case ".zst", ".zstd":
		comp = Zstd
		name = strings.TrimSuffix(name, ext)
	}

	switch filepath.Ext(name) {
	case ".csv":
		return CSV, comp, nil
	case ".jsonl", ".ndjson":
		return JSONL, comp, nil
	}
	return 0, comp, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Decompress wraps r according to c. The returned closer releases decoder
// resources; it does not close r.
func Decompress(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gz, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported compression %v", c)
}

// Open opens a position file, detecting its format from the name and
// decompressing as needed.
func Open(path string) (io.ReadCloser, Format, error) {
	format, comp, err := DetectFormat(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open position file: %w", err)
	}
	rc, err := Decompress(f, comp)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return &fileReader{ReadCloser: rc, file: f}, format, nil
}

type fileReader struct {
	io.ReadCloser
	file *os.File
}

func (r *fileReader) Close() error {
	err := r.ReadCloser.Close()
	if ferr := r.file.Close(); err == nil {
		err = ferr
	}
	return err
}
