package http

import (
	"github.com/indigo-web/webserv/http/method"
	"github.com/indigo-web/webserv/http/proto"
	"github.com/indigo-web/webserv/kv"
)

// State is the parsing progress of the request. Transitions are one-directional:
// Header -> Body -> Done.
type State uint8

const (
	Header State = iota
	Body
	Done
)

func (s State) String() string {
	switch s {
	case Header:
		return "header"
	case Body:
		return "body"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

type (
	Headers = *kv.Storage
	Pair    = kv.Pair
)

// Request represents HTTP request. It lives as long as the connection does and is reset
// between keep-alive requests.
type Request struct {
	State State
	// Method is an enum representing the request method.
	Method method.Method
	// URI is the request-target path with query and fragment cut off. It isn't decoded, nor
	// normalized in any way.
	URI string
	// RawQuery is the undecoded part of the request-target after the question mark.
	RawQuery string
	// Query holds decoded query parameters. Keys are unique, the last occurrence wins.
	Query map[string]string
	// Host and Port are taken from the Host header. Port is empty if not specified.
	Host, Port string
	Proto      proto.Proto
	// Headers are looked up case-insensitively. Setting a header twice keeps the last value.
	Headers Headers
	Body    []byte
	// ContentLength is the declared length of the body, or -1 for chunked bodies. Requests
	// with neither Content-Length nor Transfer-Encoding have it zeroed.
	ContentLength int64
	KeepAlive     bool
	// Remote is the address of the peer, without port.
	Remote string
}

func NewRequest(headers Headers) *Request {
	return &Request{
		Headers: headers,
		Query:   make(map[string]string),
	}
}

// Chunked tells whether the body is transferred using chunked encoding.
func (r *Request) Chunked() bool {
	return r.ContentLength == -1
}

// Reset prepares the request for the next one on the same connection.
func (r *Request) Reset() {
	r.State = Header
	r.Method = method.Unknown
	r.URI = ""
	r.RawQuery = ""
	clear(r.Query)
	r.Host, r.Port = "", ""
	r.Proto = proto.Unknown
	r.Headers.Clear()
	r.Body = nil
	r.ContentLength = 0
	r.KeepAlive = false
}
