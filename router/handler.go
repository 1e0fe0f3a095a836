package router

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dchest/uniuri"
	"github.com/indigo-web/utils/uf"
	"github.com/indigo-web/webserv/config"
	"github.com/indigo-web/webserv/http"
	"github.com/indigo-web/webserv/http/method"
	"github.com/indigo-web/webserv/http/mime"
	"github.com/indigo-web/webserv/http/status"
	"github.com/indigo-web/webserv/internal/cgi"
	"github.com/indigo-web/webserv/internal/urlencoded"
)

// Handler routes requests of a single server (listener) over its locations.
type Handler struct {
	cfg    *config.Config
	server *config.ServerConfig
	mime   mime.Table
}

var _ Router = new(Handler)

// New returns a router serving the server's locations. The server config is expected to be
// validated already.
func New(cfg *config.Config, server *config.ServerConfig, mimeTable mime.Table) *Handler {
	return &Handler{
		cfg:    cfg,
		server: server,
		mime:   mimeTable,
	}
}

func (h *Handler) OnRequest(request *http.Request, response *http.Response) (*cgi.Process, *http.Response) {
	match, found := FindLocationForURI(h.server.Locations, request.URI)
	if !found {
		return nil, h.OnError(request, response, status.ErrNotFound)
	}

	loc := match.Location
	if len(loc.Redirect) > 0 {
		return nil, h.generated(response.Clear(), status.MovedPermanently).
			Header("Location", loc.Redirect)
	}

	if !isAllowed(loc.Methods, request.Method) {
		return nil, h.OnError(request, response, status.ErrMethodNotAllowed).
			Header("Allow", allowHeader(loc.Methods))
	}

	decoded, err := urlencoded.Decode(uf.S2B(match.Remainder), nil)
	if err != nil {
		return nil, h.OnError(request, response, err)
	}

	remainder := string(decoded)

	if loc.CGI {
		proc, err := h.spawn(request, loc, remainder)
		if err != nil {
			return nil, h.OnError(request, response, err)
		}

		return proc, nil
	}

	switch request.Method {
	case method.GET, method.HEAD:
		err = h.serveStatic(request, response, loc, remainder)
	case method.POST:
		err = h.upload(request, response, loc, remainder)
	case method.DELETE:
		err = h.remove(response, loc, remainder)
	default:
		err = status.ErrMethodNotImplemented
	}

	if err != nil {
		return nil, h.OnError(request, response, err)
	}

	return nil, response
}

func (h *Handler) OnCGI(request *http.Request, response *http.Response, output []byte, exit error) *http.Response {
	if exit != nil {
		return h.OnError(request, response, status.ErrScriptFailed)
	}

	if err := cgi.ParseResponse(output, response.Clear()); err != nil {
		return h.OnError(request, response, err)
	}

	return response
}

// OnError responds with the configured error page for the status, falling back to
// a generated one if there's none or it can't be read.
func (h *Handler) OnError(_ *http.Request, response *http.Response, err error) *http.Response {
	code := status.CodeOf(err)
	response.Clear()

	if page, found := h.server.ErrorPages[code]; found {
		if data, err := os.ReadFile(page); err == nil {
			return response.
				Code(code).
				ContentType(h.mime.Lookup(page)).
				Bytes(data)
		}
	}

	return h.generated(response, code)
}

// generated fills the response with a minimal HTML page describing the status.
func (h *Handler) generated(response *http.Response, code status.Code) *http.Response {
	text := status.StringCode(code) + " " + string(status.Text(code))

	return response.
		Code(code).
		ContentType(mime.HTML + ";charset=utf-8").
		String("<html>\r\n<head><title>" + text + "</title></head>\r\n<body>\r\n<center><h1>" +
			text + "</h1></center>\r\n<hr><center>" + h.cfg.CGI.Software +
			"</center>\r\n</body>\r\n</html>\r\n")
}

func (h *Handler) serveStatic(request *http.Request, response *http.Response, loc *config.Location, remainder string) error {
	path, err := ResolvePath(loc.Root, remainder)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return StatusFromOSError(err)
	}

	if info.IsDir() {
		for _, index := range loc.Index {
			candidate := filepath.Join(path, index)
			if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
				return h.serveFile(response, candidate)
			}
		}

		if loc.Autoindex {
			return h.autoindex(request, response, path)
		}

		return status.ErrForbidden
	}

	if !info.Mode().IsRegular() {
		return status.ErrForbidden
	}

	return h.serveFile(response, path)
}

func (h *Handler) serveFile(response *http.Response, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return StatusFromOSError(err)
	}

	response.
		ContentType(h.mime.Lookup(path)).
		Bytes(data)

	return nil
}

// upload stores the request body at the remainder under the location's upload directory.
// If the target is a directory, a random name is generated for the file.
func (h *Handler) upload(request *http.Request, response *http.Response, loc *config.Location, remainder string) error {
	base := loc.UploadPath
	if len(base) == 0 {
		base = loc.Root
	}

	target, err := ResolvePath(base, remainder)
	if err != nil {
		return err
	}

	uri := request.URI
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		name := uniuri.New()
		target = filepath.Join(target, name)
		uri = strings.TrimSuffix(uri, "/") + "/" + name
	}

	if err = os.WriteFile(target, request.Body, 0o644); err != nil {
		return StatusFromOSError(err)
	}

	response.
		Code(status.Created).
		Header("Location", uri)

	return nil
}

func (h *Handler) remove(response *http.Response, loc *config.Location, remainder string) error {
	path, err := ResolvePath(loc.Root, remainder)
	if err != nil {
		return err
	}

	info, err := os.Lstat(path)
	if err != nil {
		return StatusFromOSError(err)
	}

	if info.IsDir() {
		return status.ErrForbidden
	}

	if err = os.Remove(path); err != nil {
		return StatusFromOSError(err)
	}

	response.Code(status.NoContent)

	return nil
}

// spawn starts the script the remainder points at. The script must carry one of the allowed
// extensions, anything following it is passed as PATH_INFO.
func (h *Handler) spawn(request *http.Request, loc *config.Location, remainder string) (*cgi.Process, error) {
	if _, err := ResolvePath(loc.Root, remainder); err != nil {
		return nil, err
	}

	// can't fail, as ResolvePath has already succeeded
	normalized, _ := NormalizeBySegments(remainder)
	scriptPath, pathInfo, ok := cgi.SplitPathInfo(normalized, loc.CGIExtensions)
	if !ok {
		return nil, status.ErrForbidden
	}

	filename, err := ResolvePath(loc.Root, scriptPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filename)
	if err != nil {
		return nil, StatusFromOSError(err)
	}

	if !info.Mode().IsRegular() {
		return nil, status.ErrForbidden
	}

	script := cgi.Script{
		Name:     scriptName(loc.Name, scriptPath),
		Filename: filename,
		PathInfo: pathInfo,
	}

	if len(pathInfo) > 0 {
		script.PathTranslated, _ = ResolvePath(loc.Root, pathInfo)
	}

	proc, err := cgi.Start(filename, cgi.Env(h.cfg, h.server, request, script), request.Body)
	if err != nil {
		return nil, StatusFromOSError(err)
	}

	return proc, nil
}

func scriptName(location, scriptPath string) string {
	if location == "/" {
		return scriptPath
	}

	return location + scriptPath
}

// isAllowed permits HEAD wherever GET is permitted, as the response to it is the same.
func isAllowed(allowed method.Set, m method.Method) bool {
	return allowed.Has(m) || (m == method.HEAD && allowed.Has(method.GET))
}

func allowHeader(allowed method.Set) string {
	if allowed.Has(method.GET) {
		allowed = allowed.With(method.HEAD)
	}

	var b strings.Builder
	for i, m := range allowed.Methods() {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString(m.String())
	}

	return b.String()
}
