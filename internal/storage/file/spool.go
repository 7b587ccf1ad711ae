// Package file keeps per-request uploads on local disk until the pipeline is done with them.
package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge means the upload exceeded the configured size cap.
var ErrTooLarge = errors.New("upload exceeds size limit")

const defaultExt = ".png"

// Spool writes uploads into a single directory under random names.
type Spool struct {
	dir      string
	maxBytes int64
}

// NewSpool creates dir if needed. maxBytes <= 0 disables the size cap.
func NewSpool(dir string, maxBytes int64) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &Spool{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Save copies src to {dir}/{uuid}{ext}, keeping the extension of filename.
// A partially written file is removed before an error is returned.
func (s *Spool) Save(src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = defaultExt
	}

	path := filepath.Join(s.dir, uuid.NewString()+ext)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create spool file: %w", err)
	}

	r := src
	if s.maxBytes > 0 {
		r = io.LimitReader(src, s.maxBytes+1)
	}

	n, err := io.Copy(dst, r)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to save upload: %w", err)
	}

	return path, nil
}

// Delete removes path. A file that is already gone is not an error.
func (s *Spool) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}
