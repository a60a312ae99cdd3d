// Package download saves a rendered export where the user can pick it up.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/brojonat/koinly-export/service/metrics"
)

// DefaultFileName is the name Koinly's web app uses for the export.
const DefaultFileName = "Koinly Transactions.csv"

// Sink stores a rendered export and reports where it went.
type Sink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// FileSink writes the export into Dir, replacing any previous export atomically.
type FileSink struct {
	Dir     string
	Metrics *metrics.Metrics
}

func (s *FileSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" {
		name = DefaultFileName
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".koinly-export-*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("failed to set export permissions: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to move export into place: %w", err)
	}

	if s.Metrics != nil {
		s.Metrics.RecordBytesWritten("file", len(data))
	}
	return path, nil
}

// WriterSink writes the CSV as-is to W (typically stdout).
type WriterSink struct {
	W       io.Writer
	Label   string // returned as the location, defaults to "stdout"
	Metrics *metrics.Metrics
}

func (s *WriterSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n, err := s.W.Write(data)
	if err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	if s.Metrics != nil {
		s.Metrics.RecordBytesWritten("writer", n)
	}
	if s.Label == "" {
		return "stdout", nil
	}
	return s.Label, nil
}

// DataURISink writes the export as a data: URI, the form a browser uses to
// download generated content. Paste it into an address bar to save the file.
type DataURISink struct {
	W       io.Writer
	Metrics *metrics.Metrics
}

func (s *DataURISink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n, err := io.WriteString(s.W, DataURI(data)+"\n")
	if err != nil {
		return "", fmt.Errorf("failed to write data URI: %w", err)
	}
	if s.Metrics != nil {
		s.Metrics.RecordBytesWritten("data_uri", n)
	}
	return "data-uri", nil
}

// DataURI returns data as a UTF-8 CSV data URI.
func DataURI(data []byte) string {
	return "data:text/csv;charset=utf-8," + EncodeURI(string(data))
}

// uriReserved holds the bytes EncodeURI leaves alone besides ASCII letters and digits.
const uriReserved = ";,/?:@&=+$-_.!~*'()#"

// EncodeURI percent-encodes s the way a browser's encodeURI does: letters,
// digits and URI punctuation pass through, every other UTF-8 byte becomes %XX.
func EncodeURI(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			b.WriteByte(c)
		case strings.IndexByte(uriReserved, c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}
