package mime

import "path/filepath"

type MIME = string

const (
	OctetStream MIME = "application/octet-stream"
	Plain       MIME = "text/plain"
	HTML        MIME = "text/html"
	XML         MIME = "text/xml"
	JSON        MIME = "application/json"
	YAML        MIME = "application/yaml"
	PDF         MIME = "application/pdf"
	ZIP         MIME = "application/zip"
	GZIP        MIME = "application/gzip"
	AVIF        MIME = "image/avif"
	CSS         MIME = "text/css"
	GIF         MIME = "image/gif"
	JPEG        MIME = "image/jpeg"
	PNG         MIME = "image/png"
	SVG         MIME = "image/svg+xml"
	ICO         MIME = "image/vnd.microsoft.icon"
	WEBP        MIME = "image/webp"
	JS          MIME = "text/javascript"
	WASM        MIME = "application/wasm"
	MP4         MIME = "video/mp4"
	MP3         MIME = "audio/mpeg"
)

// Table maps file extensions (including the leading dot) to MIME types.
type Table map[string]MIME

// Default returns a fresh copy of the built-in extension table, so callers are free
// to extend it.
func Default() Table {
	table := make(Table, len(extensions))
	for ext, mime := range extensions {
		table[ext] = mime
	}

	return table
}

// Lookup returns the MIME for the file path's extension, with a charset appended for
// textual types. Unknown extensions are served as application/octet-stream.
func (t Table) Lookup(path string) string {
	mime, found := t[filepath.Ext(path)]
	if !found {
		return OctetStream
	}

	if charset, ok := defaultCharset[mime]; ok {
		return mime + ";charset=" + charset
	}

	return mime
}
