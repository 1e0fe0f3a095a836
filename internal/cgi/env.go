package cgi

import (
	"strconv"
	"strings"

	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/webserv/config"
	"github.com/indigo-web/webserv/http"
)

// Script describes the resolved script a request is delegated to.
type Script struct {
	// Name is the URI path of the script, as seen by the client.
	Name string
	// Filename is the filesystem path of the executable.
	Filename string
	// PathInfo is the part of the URI path following the script name, if any.
	PathInfo string
	// PathTranslated is PathInfo mapped onto the document root. Empty if PathInfo is.
	PathTranslated string
}

// SplitPathInfo splits the URI path into the script part and the extra path information
// following it. Among the allowed extensions, the earliest one occurring in path is picked,
// given it ends a path segment (is followed by a slash or the end of the path) and isn't
// a segment of its own, like in "/.py". ok is false if no extension matches.
func SplitPathInfo(path string, extensions []string) (script, pathInfo string, ok bool) {
	best := -1

	for _, ext := range extensions {
		for offset := 0; offset < len(path); {
			idx := strings.Index(path[offset:], ext)
			if idx == -1 {
				break
			}

			start := offset + idx
			end := start + len(ext)
			offset = start + 1

			if start == 0 || path[start-1] == '/' {
				continue
			}

			if end != len(path) && path[end] != '/' {
				continue
			}

			if best == -1 || end < best {
				best = end
			}

			break
		}
	}

	if best == -1 {
		return "", "", false
	}

	return path[:best], path[best:], true
}

// Env builds the meta-variables set of RFC 3875, 4.1. Nothing is inherited from the
// server's own environment.
func Env(cfg *config.Config, server *config.ServerConfig, request *http.Request, script Script) []string {
	headers := request.Headers
	env := make([]string, 0, 20+headers.Len())

	add := func(key, value string) {
		env = append(env, key+"="+value)
	}

	if auth := headers.Value("Authorization"); len(auth) > 0 {
		authType, _, _ := strings.Cut(auth, " ")
		add("AUTH_TYPE", authType)
	}

	if len(request.Body) > 0 {
		add("CONTENT_LENGTH", strconv.Itoa(len(request.Body)))
	} else if length, found := headers.Get("Content-Length"); found {
		add("CONTENT_LENGTH", length)
	}

	if contentType, found := headers.Get("Content-Type"); found {
		add("CONTENT_TYPE", contentType)
	}

	add("GATEWAY_INTERFACE", cfg.CGI.Interface)

	if len(script.PathInfo) > 0 {
		add("PATH_INFO", script.PathInfo)
		add("PATH_TRANSLATED", script.PathTranslated)
	}

	add("QUERY_STRING", request.RawQuery)
	add("REMOTE_ADDR", request.Remote)
	add("REQUEST_METHOD", request.Method.String())
	add("REQUEST_URI", requestURI(request))
	add("SCRIPT_NAME", script.Name)
	add("SCRIPT_FILENAME", script.Filename)
	add("SERVER_NAME", server.Name())
	add("SERVER_PORT", strconv.Itoa(int(server.Port)))
	add("SERVER_PROTOCOL", request.Proto.String())
	add("SERVER_SOFTWARE", cfg.CGI.Software)
	// php-cgi refuses to run without it
	add("REDIRECT_STATUS", "200")

	for _, header := range headers.Pairs() {
		if isMetaHeader(header.Key) {
			continue
		}

		key := "HTTP_" + strings.Map(upperCaseAndUnderscore, header.Key)
		if key == "HTTP_PROXY" {
			// httpoxy
			continue
		}

		add(key, header.Value)
	}

	return env
}

func requestURI(request *http.Request) string {
	if len(request.RawQuery) == 0 {
		return request.URI
	}

	return request.URI + "?" + request.RawQuery
}

// isMetaHeader tells whether the header is already represented by a dedicated variable.
func isMetaHeader(key string) bool {
	return strcomp.EqualFold(key, "Content-Length") ||
		strcomp.EqualFold(key, "Content-Type") ||
		strcomp.EqualFold(key, "Authorization")
}

func upperCaseAndUnderscore(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z':
		return r - ('a' - 'A')
	case r == '-':
		return '_'
	}

	return r
}
