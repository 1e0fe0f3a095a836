package router

import (
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/indigo-web/webserv/http/status"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNormalizeBySegments(t *testing.T) {
	tcs := []struct {
		Path, Want string
	}{
		{"/a/b/../c", "/a/c"},
		{"/", "/"},
		{"", "/"},
		{"/a/./b/", "/a/b"},
		{"//a///b", "/a/b"},
		{"/a/..", "/"},
		{"/a/b/../../c/.", "/c"},
		{"/...", "/..."},
	}

	for _, tc := range tcs {
		normalized, err := NormalizeBySegments(tc.Path)
		require.NoError(t, err, tc.Path)
		require.Equal(t, tc.Want, normalized, tc.Path)
	}

	for _, path := range []string{"/../a", "/a/../..", "/a/b/../../../c"} {
		_, err := NormalizeBySegments(path)
		require.ErrorIs(t, err, status.ErrPathEscape, path)
	}
}

func TestResolvePath(t *testing.T) {
	tcs := []struct {
		Root, Remainder, Want string
	}{
		{"/var/www", "/", "/var/www"},
		{"/var/www/", "/index.html", "/var/www/index.html"},
		{"/var/www", "/a/../b.txt", "/var/www/b.txt"},
		{"./www", "/a", "www/a"},
		{"/", "/etc/hosts", "/etc/hosts"},
	}

	for _, tc := range tcs {
		path, err := ResolvePath(tc.Root, tc.Remainder)
		require.NoError(t, err)
		require.Equal(t, tc.Want, path)
	}

	_, err := ResolvePath("/var/www", "/../etc/passwd")
	require.ErrorIs(t, err, status.ErrPathEscape)

	_, err = ResolvePath("/var/www", "/a\x00b")
	require.ErrorIs(t, err, status.ErrBadPath)
}

func TestIsWithin(t *testing.T) {
	require.True(t, IsWithin("/var/www", "/var/www"))
	require.True(t, IsWithin("/var/www", "/var/www/a"))
	require.False(t, IsWithin("/var/www", "/var/www2"))
	require.False(t, IsWithin("/var/www", "/var"))
	require.True(t, IsWithin("/", "/anything"))
}

func TestStatusFromOSError(t *testing.T) {
	tcs := []struct {
		Err  error
		Code status.Code
	}{
		{&fs.PathError{Op: "open", Path: "x", Err: unix.ENOENT}, status.NotFound},
		{&fs.PathError{Op: "open", Path: "x", Err: unix.ENOTDIR}, status.NotFound},
		{&fs.PathError{Op: "open", Path: "x", Err: unix.EACCES}, status.Forbidden},
		{&fs.PathError{Op: "open", Path: "x", Err: unix.EIO}, status.InternalServerError},
		{fmt.Errorf("wrapped: %w", os.ErrNotExist), status.NotFound},
	}

	for _, tc := range tcs {
		require.Equal(t, tc.Code, status.CodeOf(StatusFromOSError(tc.Err)), tc.Err.Error())
	}

	require.NoError(t, StatusFromOSError(nil))
}
