package resolver

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "assets/hello.txt", "hello world")
	writeFile(t, root, "assets/page.html", "<p>hi</p>")
	writeFile(t, root, "docs/readme.md", "# readme")
	writeFile(t, root, "secret.txt", "top secret")
	writeFile(t, root, ".git/config", "[core]")
	return root
}

func newResolver(t *testing.T, opts Options) *Resolver {
	t.Helper()
	r, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"":                  "/",
		"/":                 "/",
		"/assets/":          "/assets",
		"assets/a.txt":      "/assets/a.txt",
		"/assets/../x":      "/x",
		"/../../etc/passwd": "/etc/passwd",
		"//assets//a.txt":   "/assets/a.txt",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestDiscoveredAllowList(t *testing.T) {
	r := newResolver(t, Options{Root: newTree(t)})

	assert.Equal(t, []string{"assets", "docs"}, r.AllowedDirs())
	assert.True(t, r.Allowed("/"))
	assert.True(t, r.Allowed("/assets"))
	assert.True(t, r.Allowed("/assets/hello.txt"))
	assert.True(t, r.Allowed("/docs/readme.md"))
	assert.False(t, r.Allowed("/secret.txt"), "files at the root are not allow-listed")
	assert.False(t, r.Allowed("/.git/config"), "hidden directories are never discovered")
	assert.False(t, r.Allowed("/assetsextra/file"), "allow-list matches whole segments")
}

func TestExplicitAllowList(t *testing.T) {
	r := newResolver(t, Options{Root: newTree(t), AllowedDirs: []string{" /assets/ ", ""}})

	assert.Equal(t, []string{"assets"}, r.AllowedDirs())
	assert.True(t, r.Allowed("/assets/hello.txt"))
	assert.False(t, r.Allowed("/docs/readme.md"))

	require.NoError(t, r.Refresh())
	assert.Equal(t, []string{"assets"}, r.AllowedDirs(), "refresh keeps an explicit list")
}

func TestRefreshPicksUpNewDirectories(t *testing.T) {
	root := newTree(t)
	r := newResolver(t, Options{Root: root})

	require.NoError(t, os.Mkdir(filepath.Join(root, "media"), 0o755))
	assert.False(t, r.Allowed("/media/a.png"))

	require.NoError(t, r.Refresh())
	assert.True(t, r.Allowed("/media/a.png"))
}

func TestStatExistsSize(t *testing.T) {
	r := newResolver(t, Options{Root: newTree(t)})

	assert.True(t, r.Exists("/assets/hello.txt"))
	assert.False(t, r.Exists("/assets/missing.txt"))

	size, err := r.Size("/assets/hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len("hello world"), size)

	info, err := r.Stat("/assets")
	require.NoError(t, err)
	assert.True(t, info.IsDir)

	_, err = r.Stat("/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadReturnsContentAndType(t *testing.T) {
	r := newResolver(t, Options{Root: newTree(t)})

	data, ct, err := r.Read("/assets/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.True(t, strings.HasPrefix(ct, "text/plain"), "got %s", ct)

	_, ct, err = r.Read("/assets/page.html")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "text/html"), "got %s", ct)

	_, _, err = r.Read("/assets/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentTypeSniffsUnknownExtensions(t *testing.T) {
	assert.Equal(t, "application/octet-stream", ContentType("/assets/blob", nil))
	assert.True(t, strings.HasPrefix(ContentType("/assets/blob", []byte("plain words")), "text/plain"))
}

func TestSymlinkOutsideRootIsNotReadable(t *testing.T) {
	root := newTree(t)
	outside := t.TempDir()
	writeFile(t, outside, "leak.txt", "leaked")
	if err := os.Symlink(filepath.Join(outside, "leak.txt"), filepath.Join(root, "assets", "leak.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	r := newResolver(t, Options{Root: root})
	_, _, err := r.Read("/assets/leak.txt")
	assert.Error(t, err)
}

func TestIndexPath(t *testing.T) {
	root := newTree(t)
	writeFile(t, root, "docs/index.html", "<h1>docs</h1>")
	r := newResolver(t, Options{Root: root})

	p, ok := r.IndexPath("/docs")
	require.True(t, ok)
	assert.Equal(t, "/docs/index.html", p)

	_, ok = r.IndexPath("/assets")
	assert.False(t, ok)
}

func TestListingShowsOnlyServableEntries(t *testing.T) {
	r := newResolver(t, Options{Root: newTree(t)})

	page, err := r.Listing("/")
	require.NoError(t, err)
	body := string(page)
	assert.Contains(t, body, `href="/assets/"`)
	assert.Contains(t, body, `href="/docs/"`)
	assert.NotContains(t, body, "secret.txt")
	assert.NotContains(t, body, ".git")

	page, err = r.Listing("/assets")
	require.NoError(t, err)
	assert.Contains(t, string(page), `href="/assets/hello.txt"`)
}

func TestSaveUpload(t *testing.T) {
	root := newTree(t)
	r := newResolver(t, Options{Root: root, UploadDir: "uploads"})

	name, err := r.SaveUpload("../../evil/report.txt", bytes.NewBufferString("quarterly"))
	require.NoError(t, err)
	assert.Equal(t, "report.txt", name)

	stored, err := os.ReadFile(filepath.Join(root, "uploads", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "quarterly", string(stored))

	assert.True(t, r.Allowed("/uploads/report.txt"), "new upload directory is discovered")
}

func TestSaveUploadRejectsBadNames(t *testing.T) {
	r := newResolver(t, Options{Root: newTree(t), UploadDir: "assets"})

	for _, name := range []string{"", "..", "/", ".hidden"} {
		_, err := r.SaveUpload(name, bytes.NewBufferString("x"))
		assert.ErrorIs(t, err, ErrInvalidFilename, "name %q", name)
	}
}

func TestNewFailsForMissingRoot(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
