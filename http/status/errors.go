package status

import "errors"

// HTTPError is an error carrying the status code the client is going to be answered with.
type HTTPError struct {
	Message string
	Code    Code
}

func NewError(code Code, message string) error {
	return HTTPError{
		Code:    code,
		Message: message,
	}
}

func (h HTTPError) Error() string {
	return h.Message
}

// CodeOf extracts the status code out of the error. Errors that don't carry any are
// considered internal faults.
func CodeOf(err error) Code {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}

	return InternalServerError
}

var (
	ErrBadRequest           = NewError(BadRequest, "bad request")
	ErrBadRequestLine       = NewError(BadRequest, "malformed request line")
	ErrBadHeader            = NewError(BadRequest, "malformed header field")
	ErrBadHost              = NewError(BadRequest, "missing or malformed Host header")
	ErrBadContentLength     = NewError(BadRequest, "malformed Content-Length")
	ErrAmbiguousLength      = NewError(BadRequest, "both Content-Length and Transfer-Encoding are set")
	ErrBadChunk             = NewError(BadRequest, "malformed chunk-encoded data")
	ErrURLDecoding          = NewError(BadRequest, "invalid urlencoded sequence")
	ErrUnsupportedProtocol  = NewError(BadRequest, "unsupported protocol version")
	ErrPipelining           = NewError(BadRequest, "data after the end of the request")
	ErrBadPath              = NewError(BadRequest, "path contains control characters")
	ErrPathEscape           = NewError(Forbidden, "path escapes the document root")
	ErrForbidden            = NewError(Forbidden, "forbidden")
	ErrNotFound             = NewError(NotFound, "not found")
	ErrMethodNotAllowed     = NewError(MethodNotAllowed, "method not allowed")
	ErrBodyTooLarge         = NewError(RequestEntityTooLarge, "request body is too large")
	ErrURITooLong           = NewError(RequestURITooLong, "request URI too long")
	ErrHeaderFieldsTooLarge = NewError(RequestHeaderFieldsTooLarge, "too large headers section")
	ErrInternalServerError  = NewError(InternalServerError, "internal server error")
	ErrBadGateway           = NewError(InternalServerError, "malformed CGI response")
	ErrScriptFailed         = NewError(InternalServerError, "CGI script exited with non-zero status")
	ErrMethodNotImplemented = NewError(NotImplemented, "request method is not supported")
	ErrUnsupportedEncoding  = NewError(NotImplemented, "transfer encoding is not supported")
	ErrCloseConnection      = errors.New("actively closing the connection")
)
