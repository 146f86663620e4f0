package cdns

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/renameio/v2"
)

// FileWriter is a [Writer] backed by an atomically replaced file: the
// capture is written to a temporary file and only renamed into place by
// Close, so a crash mid-write never leaves a truncated capture under the
// target path.
type FileWriter struct {
	*Writer

	file *renameio.PendingFile
}

// NewFileWriter returns a writer producing the capture file at path.
func NewFileWriter(path string, c *WriterConfig) (fw *FileWriter, err error) {
	tmpDir := renameio.TempDir(filepath.Dir(path))
	file, err := renameio.TempFile(tmpDir, path)
	if err != nil {
		return nil, fmt.Errorf("creating temporary capture file: %w", err)
	}

	wr, err := NewWriter(file, c)
	if err != nil {
		return nil, errors.WithDeferred(err, file.Cleanup())
	}

	return &FileWriter{
		Writer: wr,
		file:   file,
	}, nil
}

// Close flushes any pending block, terminates the capture, and moves the
// file into place.
func (fw *FileWriter) Close(ctx context.Context) (err error) {
	err = fw.Writer.Close(ctx)
	if err != nil {
		return errors.WithDeferred(err, fw.file.Cleanup())
	}

	err = fw.file.CloseAtomicallyReplace()
	if err != nil {
		return fmt.Errorf("replacing capture file: %w", err)
	}

	return nil
}

// Cleanup abandons the capture, removing the temporary file.  It is safe to
// call after a failed Close.
func (fw *FileWriter) Cleanup() (err error) {
	return fw.file.Cleanup()
}

// ReadAll decodes every block of the capture stream r.  It is a convenience
// for small captures; use [Reader] directly to scan large ones.
func ReadAll(ctx context.Context, r io.Reader, c *ReaderConfig) (blocks []*Block, err error) {
	rd, err := NewReader(r, c)
	if err != nil {
		return nil, err
	}

	for {
		b, err := rd.Next(ctx)
		if err == io.EOF {
			return blocks, nil
		} else if err != nil {
			return nil, err
		}

		blocks = append(blocks, b)
	}
}
