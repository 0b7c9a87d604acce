// Package resolver maps request paths onto the served directory tree.
//
// All filesystem access goes through os.Root, so a request path can never
// reach outside the served root, including through symlinks.
package resolver

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// IndexFile is served for directory paths when present.
const IndexFile = "index.html"

// ErrNotFound is returned for paths that do not exist under the root.
var ErrNotFound = errors.New("resource not found")

// Info describes a resolved resource.
type Info struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Options configures a Resolver.
type Options struct {
	// Root is the served directory.
	Root string
	// AllowedDirs lists the top-level directory names that may be served.
	// Empty means every directory found directly under Root.
	AllowedDirs []string
	// UploadDir receives uploads; relative paths are taken from Root.
	UploadDir string
}

// Resolver answers existence, size, type and content questions for request
// paths. It is safe for concurrent use.
type Resolver struct {
	rootDir   string
	root      *os.Root
	uploadDir string
	explicit  bool

	mu      sync.RWMutex
	allowed map[string]struct{}
}

// New opens the served root and builds the allow-list.
func New(opts Options) (*Resolver, error) {
	rootDir, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", opts.Root, err)
	}

	root, err := os.OpenRoot(rootDir)
	if err != nil {
		return nil, fmt.Errorf("open root %q: %w", rootDir, err)
	}

	uploadDir := opts.UploadDir
	if uploadDir != "" && !filepath.IsAbs(uploadDir) {
		uploadDir = filepath.Join(rootDir, uploadDir)
	}

	r := &Resolver{
		rootDir:   rootDir,
		root:      root,
		uploadDir: uploadDir,
		explicit:  len(opts.AllowedDirs) > 0,
	}

	if r.explicit {
		allowed := make(map[string]struct{}, len(opts.AllowedDirs))
		for _, dir := range opts.AllowedDirs {
			dir = strings.Trim(strings.TrimSpace(dir), "/")
			if dir != "" {
				allowed[dir] = struct{}{}
			}
		}
		r.allowed = allowed
	} else if err := r.Refresh(); err != nil {
		_ = root.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the root handle.
func (r *Resolver) Close() error {
	return r.root.Close()
}

// RootDir returns the absolute served directory.
func (r *Resolver) RootDir() string {
	return r.rootDir
}

// Refresh rediscovers the allow-list from the directories under the root.
// It is a no-op when the allow-list was configured explicitly.
func (r *Resolver) Refresh() error {
	if r.explicit {
		return nil
	}

	entries, err := fs.ReadDir(r.root.FS(), ".")
	if err != nil {
		return fmt.Errorf("list root %q: %w", r.rootDir, err)
	}

	allowed := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			allowed[entry.Name()] = struct{}{}
		}
	}

	r.mu.Lock()
	r.allowed = allowed
	r.mu.Unlock()
	return nil
}

// AllowedDirs returns the current allow-list, sorted.
func (r *Resolver) AllowedDirs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dirs := make([]string, 0, len(r.allowed))
	for dir := range r.allowed {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// Normalize cleans a URL path into the canonical form used for allow-list
// checks and cache fingerprints.
func Normalize(urlPath string) string {
	return path.Clean("/" + urlPath)
}

// Allowed reports whether a normalized path is the root or lies in an
// allow-listed top-level directory.
func (r *Resolver) Allowed(p string) bool {
	if p == "/" {
		return true
	}

	first, _, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")

	r.mu.RLock()
	_, ok := r.allowed[first]
	r.mu.RUnlock()
	return ok
}

// Stat describes the resource at a normalized path.
func (r *Resolver) Stat(p string) (Info, error) {
	fi, err := r.root.Stat(relative(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotFound
		}
		return Info{}, err
	}
	return Info{Path: p, Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

// Exists reports whether anything exists at the normalized path.
func (r *Resolver) Exists(p string) bool {
	_, err := r.Stat(p)
	return err == nil
}

// Size returns the size in bytes of the resource at the normalized path.
func (r *Resolver) Size(p string) (int64, error) {
	info, err := r.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Read returns the full content of a file together with its mime type.
func (r *Resolver) Read(p string) ([]byte, string, error) {
	f, err := r.root.Open(relative(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	defer f.Close() // nolint:errcheck // read-only handle

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", p, err)
	}
	return data, ContentType(p, data), nil
}

// Open returns a handle for streaming a file that is too large to buffer.
// The caller closes it.
func (r *Resolver) Open(p string) (*os.File, error) {
	f, err := r.root.Open(relative(p))
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// IndexPath returns the path of the index file for a directory path, if
// the directory has one.
func (r *Resolver) IndexPath(dir string) (string, bool) {
	candidate := path.Join(dir, IndexFile)
	info, err := r.Stat(candidate)
	if err != nil || info.IsDir {
		return "", false
	}
	return candidate, true
}

// ContentType guesses the mime type from the extension, falling back to
// sniffing the leading bytes.
func ContentType(p string, head []byte) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	if len(head) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(head)
}

func relative(p string) string {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" {
		return "."
	}
	return rel
}
