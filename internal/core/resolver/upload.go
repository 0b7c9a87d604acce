package resolver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidFilename is returned for upload names that reduce to nothing
// usable once directory components are stripped.
var ErrInvalidFilename = errors.New("invalid upload filename")

// UploadDir returns the absolute directory uploads are written to.
func (r *Resolver) UploadDir() string {
	return r.uploadDir
}

// SaveUpload writes src into the upload directory under the base name of
// filename and returns the stored name. An existing file is replaced.
func (r *Resolver) SaveUpload(filename string, src io.Reader) (string, error) {
	if r.uploadDir == "" {
		return "", errors.New("uploads are disabled")
	}

	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidFilename
	}

	if err := os.MkdirAll(r.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	dir, err := os.OpenRoot(r.uploadDir)
	if err != nil {
		return "", fmt.Errorf("open upload dir: %w", err)
	}
	defer dir.Close() // nolint:errcheck // best-effort cleanup

	f, err := dir.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}

	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = dir.Remove(name)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	if !r.explicit && filepath.Dir(r.uploadDir) == r.rootDir {
		// A freshly created upload directory becomes servable.
		_ = r.Refresh()
	}

	return name, nil
}
