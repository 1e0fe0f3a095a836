package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/indigo-web/webserv/http/method"
	"github.com/indigo-web/webserv/http/status"
	"github.com/stretchr/testify/require"
)

const sample = `
# main site
server {
    listen 127.0.0.1:8081;
    server_name example;
    client_max_body_size 2k;
    error_page 404 500 /var/www/errors/oops.html;
    root /var/www;
    index index.html index.htm;

    location / {
        methods GET POST DELETE;
        autoindex on;
    }

    location /kapouet/ {
        root /tmp/www;
        index "default page.html";
    }

    location /cgi-bin {
        root /var/www/cgi-bin;
        methods GET POST;
        cgi on;
        cgi_extensions .py .sh;
    }

    location /old {
        return /new;
    }
}

server {
    listen 9090;
    location / {
        root ./www;
        upload ./uploads;
    }
}
`

func TestParse(t *testing.T) {
	servers, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, servers, 2)

	first := servers[0]
	require.Equal(t, "127.0.0.1", first.Host)
	require.Equal(t, uint16(8081), first.Port)
	require.Equal(t, "example", first.Name())
	require.Equal(t, int64(2048), first.MaxBodySize)
	require.Equal(t, map[status.Code]string{
		404: "/var/www/errors/oops.html",
		500: "/var/www/errors/oops.html",
	}, first.ErrorPages)
	require.Len(t, first.Locations, 4)

	root := first.Locations[0]
	require.Equal(t, "/", root.Name)
	require.Equal(t, "/var/www", root.Root)
	require.Equal(t, []string{"index.html", "index.htm"}, root.Index)
	require.True(t, root.Autoindex)
	require.Equal(t, method.NewSet(method.GET, method.POST, method.DELETE), root.Methods)

	kapouet := first.Locations[1]
	require.Equal(t, "/kapouet", kapouet.Name)
	require.Equal(t, "/tmp/www", kapouet.Root)
	require.Equal(t, []string{"default page.html"}, kapouet.Index)
	require.Equal(t, DefaultMethods, kapouet.Methods)

	cgi := first.Locations[2]
	require.True(t, cgi.CGI)
	require.Equal(t, []string{".py", ".sh"}, cgi.CGIExtensions)

	require.Equal(t, "/new", first.Locations[3].Redirect)

	second := servers[1]
	require.Equal(t, DefaultHost, second.Host)
	require.Equal(t, uint16(9090), second.Port)
	require.Equal(t, Default().Body.DefaultMaxSize, second.MaxBodySize)
	require.Equal(t, "./uploads", second.Locations[0].UploadPath)
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		Name, Config, Error string
	}{
		{
			Name:   "repeated server directive",
			Config: "server { listen 80; listen 81; location / { root /; } }",
			Error:  `duplicated`,
		},
		{
			Name:   "repeated location directive",
			Config: "server { location / { root /a; root /b; } }",
			Error:  `directive "root" is duplicated`,
		},
		{
			Name:   "duplicate location after normalization",
			Config: "server { location /img { root /a; } location /img/ { root /b; } }",
			Error:  `already declared`,
		},
		{
			Name:   "duplicate port",
			Config: "server { listen 80; location / { root /; } } server { listen 80; location / { root /; } }",
			Error:  `more than one server`,
		},
		{
			Name:   "body size overflowing int64",
			Config: "server { client_max_body_size 9999999999999999m; location / { root /; } }",
			Error:  `is too large`,
		},
		{
			Name:   "unknown directive",
			Config: "server { gzip on; }",
			Error:  `unknown directive "gzip"`,
		},
		{
			Name:   "missing semicolon",
			Config: "server { listen 80 }",
			Error:  `expected ';'`,
		},
		{
			Name:   "unterminated block",
			Config: "server { location / { root /;",
			Error:  `end of file`,
		},
		{
			Name:   "bad method",
			Config: "server { location / { root /; methods GET PUT; } }",
			Error:  `unsupported method "PUT"`,
		},
		{
			Name:   "cgi without extensions",
			Config: "server { location / { root /; cgi on; } }",
			Error:  `no cgi_extensions`,
		},
		{
			Name:   "no root",
			Config: "server { location / { index a.html; } }",
			Error:  `root is not set`,
		},
		{
			Name:   "bad port",
			Config: "server { listen 99999; location / { root /; } }",
			Error:  `bad port`,
		},
		{
			Name:   "relative location name",
			Config: "server { location img { root /; } }",
			Error:  `must start with a slash`,
		},
		{
			Name:   "unterminated quote",
			Config: "server { server_name \"oops; }",
			Error:  `unterminated`,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.Config))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.Error)
		})
	}
}

func TestErrorLine(t *testing.T) {
	_, err := Parse(strings.NewReader("server {\n\n  bogus;\n}"))
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, 3, cfgErr.Line)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webserv.conf")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	servers, err := Load(path)
	require.NoError(t, err)
	require.Len(t, servers, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.Error(t, err)

	t.Run("shipped default", func(t *testing.T) {
		servers, err := Load("../conf/default.conf")
		require.NoError(t, err)
		require.Len(t, servers, 1)
		require.Equal(t, uint16(8080), servers[0].Port)
		require.Len(t, servers[0].Locations, 4)
	})
}

func TestNormalizeLocation(t *testing.T) {
	require.Equal(t, "/", NormalizeLocation("/"))
	require.Equal(t, "/", NormalizeLocation("///"))
	require.Equal(t, "/img", NormalizeLocation("/img/"))
	require.Equal(t, "/img", NormalizeLocation("/img"))
	require.Equal(t, "/a/b", NormalizeLocation("/a/b//"))
}
