package router

import (
	"html"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/indigo-web/webserv/http"
	"github.com/indigo-web/webserv/http/mime"
)

// autoindex lists the directory entries as an HTML page. Links are absolute, so the listing
// works regardless of whether the request URI has a trailing slash.
func (h *Handler) autoindex(request *http.Request, response *http.Response, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return StatusFromOSError(err)
	}

	base := strings.TrimSuffix(request.URI, "/") + "/"
	title := html.EscapeString("Index of " + base)

	var b strings.Builder
	b.WriteString("<html>\r\n<head><title>")
	b.WriteString(title)
	b.WriteString("</title></head>\r\n<body>\r\n<h1>")
	b.WriteString(title)
	b.WriteString("</h1><hr><pre>\r\n")

	if base != "/" {
		b.WriteString(`<a href="../">../</a>` + "\r\n")
	}

	for _, entry := range entries {
		name := entry.Name()
		var size string
		if entry.IsDir() {
			name += "/"
			size = "-"
		} else if info, err := entry.Info(); err == nil {
			size = strconv.FormatInt(info.Size(), 10)
		}

		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(base + url.PathEscape(strings.TrimSuffix(name, "/"))))
		if entry.IsDir() {
			b.WriteByte('/')
		}

		b.WriteString(`">`)
		b.WriteString(html.EscapeString(name))
		b.WriteString("</a> ")
		b.WriteString(size)
		b.WriteString("\r\n")
	}

	b.WriteString("</pre><hr></body>\r\n</html>\r\n")

	response.
		ContentType(mime.HTML + ";charset=utf-8").
		String(b.String())

	return nil
}
