package router

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/indigo-web/webserv/http/status"
	"golang.org/x/sys/unix"
)

// NormalizeBySegments resolves dot-segments of an absolute path. Empty segments are dropped
// as well. A path whose double-dot climbs above the root is rejected rather than clamped.
// The result always starts with a slash and never ends with one, unless it's the root.
func NormalizeBySegments(path string) (string, error) {
	segments := make([]string, 0, strings.Count(path, "/"))

	for len(path) > 0 {
		var segment string
		segment, path, _ = strings.Cut(path, "/")

		switch segment {
		case "", ".":
		case "..":
			if len(segments) == 0 {
				return "", status.ErrPathEscape
			}

			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, segment)
		}
	}

	return "/" + strings.Join(segments, "/"), nil
}

// ResolvePath maps the decoded URI remainder onto the document root. This is the last gate
// before any filesystem access: control characters are rejected, dot-segments are resolved,
// and the result must be either the root itself or lie under it.
func ResolvePath(root, remainder string) (string, error) {
	for i := 0; i < len(remainder); i++ {
		if c := remainder[i]; c < ' ' || c == 0x7f {
			return "", status.ErrBadPath
		}
	}

	normalized, err := NormalizeBySegments(remainder)
	if err != nil {
		return "", err
	}

	root = filepath.Clean(root)
	if normalized == "/" {
		return root, nil
	}

	path := strings.TrimSuffix(root, "/") + normalized
	if !IsWithin(root, path) {
		return "", status.ErrPathEscape
	}

	return path, nil
}

// IsWithin reports whether path is the root itself or a slash-bounded descendant of it.
func IsWithin(root, path string) bool {
	if path == root {
		return true
	}

	if root == "/" {
		return strings.HasPrefix(path, "/")
	}

	return strings.HasPrefix(path, root) && path[len(root)] == '/'
}

// StatusFromOSError maps filesystem errors to status-carrying ones.
func StatusFromOSError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, unix.ENOTDIR):
		return status.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return status.ErrForbidden
	default:
		return status.NewError(status.InternalServerError, err.Error())
	}
}
