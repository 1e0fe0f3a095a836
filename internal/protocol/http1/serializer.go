package http1

import (
	"strconv"

	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/webserv/config"
	"github.com/indigo-web/webserv/http"
	"github.com/indigo-web/webserv/http/method"
	"github.com/indigo-web/webserv/http/proto"
	"github.com/indigo-web/webserv/http/status"
	"github.com/indigo-web/webserv/internal/timer"
	"github.com/indigo-web/webserv/kv"
)

// Serializer renders responses into a reusable buffer.
type Serializer struct {
	cfg  *config.Config
	buff []byte
}

func NewSerializer(cfg *config.Config, buff []byte) *Serializer {
	return &Serializer{
		cfg:  cfg,
		buff: buff,
	}
}

// Serialize renders the response to the request. The returned slice is valid until the next
// call. Content-Length is always computed from the body, Date and Server are added unless
// already set, and Connection reflects the keep-alive decision. Responses to HEAD requests
// keep their Content-Length, but the body is omitted.
func (s *Serializer) Serialize(request *http.Request, response *http.Response, keepAlive bool) []byte {
	fields := response.Expose()
	s.buff = s.buff[:0]
	s.appendProtocol(request.Proto)
	s.appendStatus(fields)

	for _, header := range fields.Headers.Pairs() {
		if isAutoHeader(header.Key) {
			continue
		}

		s.appendHeader(header)
	}

	if !fields.Headers.Has("Date") {
		s.appendKnownHeader("Date: ", timer.Date())
	}

	if !fields.Headers.Has("Server") {
		s.appendKnownHeader("Server: ", s.cfg.CGI.Software)
	}

	if keepAlive {
		s.appendKnownHeader("Connection: ", "keep-alive")
	} else {
		s.appendKnownHeader("Connection: ", "close")
	}

	if hasBody(fields.Code) {
		s.appendContentLength(int64(len(fields.Body)))
	}

	s.crlf()

	if request.Method != method.HEAD && hasBody(fields.Code) {
		s.buff = append(s.buff, fields.Body...)
	}

	return s.buff
}

func (s *Serializer) appendStatus(fields *http.Fields) {
	s.buff = strconv.AppendUint(s.buff, uint64(fields.Code), 10)
	s.sp()

	statusText := fields.Status
	if len(statusText) == 0 {
		statusText = status.Text(fields.Code)
	}

	s.buff = append(s.buff, statusText...)
	s.crlf()
}

// appendHeader writes a complete header field line.
func (s *Serializer) appendHeader(header kv.Pair) {
	s.buff = append(s.buff, header.Key...)
	s.colonsp()
	s.buff = append(s.buff, header.Value...)
	s.crlf()
}

// appendKnownHeader differs from appendHeader only by the fact that the key is known to already
// have a colon and a space included.
func (s *Serializer) appendKnownHeader(key, value string) {
	s.buff = append(s.buff, key...)
	s.buff = append(s.buff, value...)
	s.crlf()
}

func (s *Serializer) appendContentLength(value int64) {
	s.buff = append(s.buff, "Content-Length: "...)
	s.buff = strconv.AppendUint(s.buff, uint64(value), 10)
	s.crlf()
}

func (s *Serializer) appendProtocol(protocol proto.Proto) {
	if protocol == proto.Unknown {
		// in case the request line was malformed, parser had no chance of reaching
		// the protocol and thereby resulting in the unknown one.
		protocol = proto.HTTP11
	}

	s.buff = append(s.buff, protocol.String()...)
	s.sp()
}

func (s *Serializer) sp() {
	s.buff = append(s.buff, ' ')
}

func (s *Serializer) colonsp() {
	s.buff = append(s.buff, ':', ' ')
}

const crlf = "\r\n"

func (s *Serializer) crlf() {
	s.buff = append(s.buff, crlf...)
}

// isAutoHeader tells whether the header is always generated by the serializer itself.
func isAutoHeader(key string) bool {
	return strcomp.EqualFold(key, "Content-Length") ||
		strcomp.EqualFold(key, "Connection") ||
		strcomp.EqualFold(key, "Transfer-Encoding")
}

func hasBody(code status.Code) bool {
	return code >= 200 && code != status.NoContent && code != status.NotModified
}
