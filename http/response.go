package http

import (
	"github.com/indigo-web/webserv/http/mime"
	"github.com/indigo-web/webserv/http/status"
	"github.com/indigo-web/webserv/kv"
)

const preallocRespHeaders = 7

// Fields are the response internals exposed to the serializer.
type Fields struct {
	Code    status.Code
	Status  status.Status
	Headers Headers
	Body    []byte
}

type Response struct {
	fields Fields
}

// NewResponse returns a new instance of the Response object with status code set to 200 OK
// and no headers.
func NewResponse() *Response {
	return &Response{
		fields: Fields{
			Code:    status.OK,
			Headers: kv.NewPrealloc(preallocRespHeaders),
		},
	}
}

// Code sets a Response code. The reason phrase is reset to the default one of the code.
func (r *Response) Code(code status.Code) *Response {
	r.fields.Code = code
	r.fields.Status = ""
	return r
}

// Status sets a custom reason phrase.
func (r *Response) Status(status status.Status) *Response {
	r.fields.Status = status
	return r
}

// ContentType is a shorthand for Header("Content-Type", value).
func (r *Response) ContentType(value mime.MIME) *Response {
	return r.Header("Content-Type", value)
}

// Header sets the header, overriding previous values of it.
func (r *Response) Header(key, value string) *Response {
	r.fields.Headers.Set(key, value)
	return r
}

// AddHeader appends a header value without overriding previous ones.
func (r *Response) AddHeader(key, value string) *Response {
	r.fields.Headers.Add(key, value)
	return r
}

// String sets the response body.
func (r *Response) String(body string) *Response {
	r.fields.Body = []byte(body)
	return r
}

// Bytes sets the response body. The slice is not copied.
func (r *Response) Bytes(body []byte) *Response {
	r.fields.Body = body
	return r
}

// Error sets the response code, deduced from the error.
func (r *Response) Error(err error) *Response {
	return r.Code(status.CodeOf(err))
}

// Expose gives access to the response fields.
func (r *Response) Expose() *Fields {
	return &r.fields
}

// Clear resets the response to its initial state, keeping the allocated memory.
func (r *Response) Clear() *Response {
	r.fields.Code = status.OK
	r.fields.Status = ""
	r.fields.Headers.Clear()
	r.fields.Body = nil
	return r
}
