package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

const tailChunkSize = 64 * 1024

// File reads the end of a plain-text log file
type File struct {
	path string
}

// NewFile creates a file backend
func NewFile(path string) *File {
	return &File{path: path}
}

// Name implements Backend
func (f *File) Name() string {
	return "file"
}

// Tail implements Backend. The file is read backwards in chunks until
// enough newlines have been seen, so large logs are never read whole
func (f *File) Tail(ctx context.Context, n int) ([]string, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	offset := info.Size()
	var buf []byte

	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		size := int64(tailChunkSize)
		if size > offset {
			size = offset
		}
		offset -= size

		chunk := make([]byte, size)
		if _, err := file.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read log file: %w", err)
		}
		buf = append(chunk, buf...)
	}

	// The first line is partial unless the read reached the start of the file
	if offset > 0 {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}

	return Last(SplitLines(string(buf)), n), nil
}
