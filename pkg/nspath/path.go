// Package nspath validates and manipulates the virtual paths that name
// every file in the namespace (spec §3 "Path"): a UTF-8 string beginning
// with "/", components separated by "/", no "." or ".." components, no
// empty components, case-sensitive, capped at 4096 bytes. A trailing "/"
// denotes the directory form of a path.
package nspath

import (
	"strings"
	"unicode/utf8"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// MaxBytes is the maximum encoded length of a path.
const MaxBytes = 4096

// Validate checks p against the path grammar and returns a normalized form
// (trailing slash stripped, except for "/" itself).
func Validate(p string) (string, error) {
	if len(p) == 0 || p[0] != '/' {
		return "", errtypes.InvalidArgument("path must begin with '/': " + p)
	}
	if len(p) > MaxBytes {
		return "", errtypes.InvalidArgument("path exceeds 4096 bytes")
	}
	if !utf8.ValidString(p) {
		return "", errtypes.InvalidArgument("path must be valid UTF-8")
	}

	trimmed := p
	isDir := len(p) > 1 && strings.HasSuffix(p, "/")
	if isDir {
		trimmed = strings.TrimRight(p, "/")
	}
	if trimmed == "" {
		trimmed = "/"
	}

	if trimmed != "/" {
		for _, c := range strings.Split(trimmed[1:], "/") {
			switch c {
			case "":
				return "", errtypes.InvalidArgument("path contains an empty component: " + p)
			case ".", "..":
				return "", errtypes.InvalidArgument("path contains a '.' or '..' component: " + p)
			}
		}
	}
	return trimmed, nil
}

// IsDirForm reports whether the original (unnormalized) path string uses
// the trailing-slash directory form.
func IsDirForm(p string) bool {
	return len(p) > 1 && strings.HasSuffix(p, "/")
}

// Parent returns the parent path of p ("/" for top-level entries, and "/"
// itself has no parent — ok is false).
func Parent(p string) (parent string, ok bool) {
	if p == "/" {
		return "", false
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/", true
	}
	return p[:idx], true
}

// Join appends child (a single path component, no slashes) to a normalized
// parent path.
func Join(parent, child string) string {
	if parent == "/" {
		return "/" + child
	}
	return parent + "/" + child
}

// HasPrefix reports whether p is equal to prefix or lies under it as a
// descendant, respecting path-component boundaries (so "/ws2" is not
// considered a descendant of "/ws").
func HasPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// Base returns the final path component of p.
func Base(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
