package router

import (
	"github.com/indigo-web/webserv/http"
	"github.com/indigo-web/webserv/internal/cgi"
)

// Router produces responses for completed requests. Methods MUST NOT be called
// concurrently with the same request or response.
type Router interface {
	// OnRequest either fills the response, or delegates the request to a CGI script by
	// returning the spawned process. In the latter case the response is produced by
	// OnCGI as soon as the script's output is complete.
	OnRequest(request *http.Request, response *http.Response) (*cgi.Process, *http.Response)
	// OnCGI produces the response out of the complete script output. exit is the
	// result of reaping the script.
	OnCGI(request *http.Request, response *http.Response, output []byte, exit error) *http.Response
	// OnError turns the error into a response.
	OnError(request *http.Request, response *http.Response, err error) *http.Response
}
