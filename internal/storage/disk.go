package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

var _ Store = (*Disk)(nil)

// Disk stores objects as files in one directory.
type Disk struct {
	dir string
}

// NewDisk creates dir if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating upload dir %s: %w", dir, err)
	}
	return &Disk{dir: dir}, nil
}

// Put writes to a temp file and renames it, so a reader never sees a
// partially written image.
func (d *Disk) Put(ctx context.Context, name, contentType string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: closing %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("storage: chmod %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		return fmt.Errorf("storage: renaming %s: %w", name, err)
	}
	return nil
}

func (d *Disk) Open(ctx context.Context, name string) (io.ReadCloser, string, error) {
	if err := ValidateName(name); err != nil {
		return nil, "", err
	}

	path := filepath.Join(d.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, "", fmt.Errorf("storage: opening %s: %w", name, err)
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("storage: sniffing %s: %w", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("storage: rewinding %s: %w", name, err)
	}

	return f, mt.String(), nil
}
