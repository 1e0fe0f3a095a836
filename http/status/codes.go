package status

import "strconv"

type (
	Code   uint16
	Status string
)

// HTTP status codes the server produces. Codes a CGI script reports through its Status
// header are passed through even if they aren't listed here.
const (
	OK        Code = 200 // RFC 9110, 15.3.1
	Created   Code = 201 // RFC 9110, 15.3.2
	NoContent Code = 204 // RFC 9110, 15.3.5

	MovedPermanently  Code = 301 // RFC 9110, 15.4.2
	Found             Code = 302 // RFC 9110, 15.4.3
	SeeOther          Code = 303 // RFC 9110, 15.4.4
	NotModified       Code = 304 // RFC 9110, 15.4.5
	TemporaryRedirect Code = 307 // RFC 9110, 15.4.8
	PermanentRedirect Code = 308 // RFC 9110, 15.4.9

	BadRequest                  Code = 400 // RFC 9110, 15.5.1
	Unauthorized                Code = 401 // RFC 9110, 15.5.2
	Forbidden                   Code = 403 // RFC 9110, 15.5.4
	NotFound                    Code = 404 // RFC 9110, 15.5.5
	MethodNotAllowed            Code = 405 // RFC 9110, 15.5.6
	RequestTimeout              Code = 408 // RFC 9110, 15.5.9
	Conflict                    Code = 409 // RFC 9110, 15.5.10
	LengthRequired              Code = 411 // RFC 9110, 15.5.12
	RequestEntityTooLarge       Code = 413 // RFC 9110, 15.5.14
	RequestURITooLong           Code = 414 // RFC 9110, 15.5.15
	UnsupportedMediaType        Code = 415 // RFC 9110, 15.5.16
	RequestHeaderFieldsTooLarge Code = 431 // RFC 6585, 5

	InternalServerError     Code = 500 // RFC 9110, 15.6.1
	NotImplemented          Code = 501 // RFC 9110, 15.6.2
	BadGateway              Code = 502 // RFC 9110, 15.6.3
	ServiceUnavailable      Code = 503 // RFC 9110, 15.6.4
	GatewayTimeout          Code = 504 // RFC 9110, 15.6.5
	HTTPVersionNotSupported Code = 505 // RFC 9110, 15.6.6
)

// KnownCodes lists every code Text has a reason phrase for.
var KnownCodes = []Code{
	OK, Created, NoContent,
	MovedPermanently, Found, SeeOther, NotModified, TemporaryRedirect, PermanentRedirect,
	BadRequest, Unauthorized, Forbidden, NotFound, MethodNotAllowed, RequestTimeout, Conflict,
	LengthRequired, RequestEntityTooLarge, RequestURITooLong, UnsupportedMediaType,
	RequestHeaderFieldsTooLarge,
	InternalServerError, NotImplemented, BadGateway, ServiceUnavailable, GatewayTimeout,
	HTTPVersionNotSupported,
}

// Text returns a reason phrase for the HTTP status code. Unknown codes get a phrase
// derived from their class, so a status line is never left without one.
func Text(code Code) Status {
	switch code {
	case OK:
		return "OK"
	case Created:
		return "Created"
	case NoContent:
		return "No Content"
	case MovedPermanently:
		return "Moved Permanently"
	case Found:
		return "Found"
	case SeeOther:
		return "See Other"
	case NotModified:
		return "Not Modified"
	case TemporaryRedirect:
		return "Temporary Redirect"
	case PermanentRedirect:
		return "Permanent Redirect"
	case BadRequest:
		return "Bad Request"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case NotFound:
		return "Not Found"
	case MethodNotAllowed:
		return "Method Not Allowed"
	case RequestTimeout:
		return "Request Timeout"
	case Conflict:
		return "Conflict"
	case LengthRequired:
		return "Length Required"
	case RequestEntityTooLarge:
		return "Request Entity Too Large"
	case RequestURITooLong:
		return "Request URI Too Long"
	case UnsupportedMediaType:
		return "Unsupported Media Type"
	case RequestHeaderFieldsTooLarge:
		return "Request Header Fields Too Large"
	case InternalServerError:
		return "Internal Server Error"
	case NotImplemented:
		return "Not Implemented"
	case BadGateway:
		return "Bad Gateway"
	case ServiceUnavailable:
		return "Service Unavailable"
	case GatewayTimeout:
		return "Gateway Timeout"
	case HTTPVersionNotSupported:
		return "HTTP Version Not Supported"
	}

	switch code / 100 {
	case 1:
		return "Informational"
	case 2:
		return "Success"
	case 3:
		return "Redirection"
	case 4:
		return "Client Error"
	default:
		return "Server Error"
	}
}

// StringCode returns the decimal representation of the code.
func StringCode(code Code) string {
	return strconv.FormatUint(uint64(code), 10)
}
