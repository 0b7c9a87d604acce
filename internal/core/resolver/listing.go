package resolver

import (
	"bytes"
	"fmt"
	"html"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Listing renders an HTML index of a directory. Entries the caller may not
// request are left out, so the root listing only shows allow-listed
// directories.
func (r *Resolver) Listing(dir string) ([]byte, error) {
	entries, err := fs.ReadDir(r.root.FS(), relative(dir))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	title := html.EscapeString("Directory listing for " + dir)

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE HTML>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&buf, "<title>%s</title>\n</head>\n<body>\n<h1>%s</h1>\n<hr>\n<ul>\n", title, title)

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !r.Allowed(path.Join(dir, name)) {
			continue
		}

		display := name
		if entry.IsDir() {
			display += "/"
		}
		href := (&url.URL{Path: path.Join(dir, name)}).EscapedPath()
		if entry.IsDir() {
			href += "/"
		}
		fmt.Fprintf(&buf, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(href), html.EscapeString(display))
	}

	buf.WriteString("</ul>\n<hr>\n</body>\n</html>\n")
	return buf.Bytes(), nil
}
