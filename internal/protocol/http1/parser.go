package http1

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
	"github.com/indigo-web/webserv/config"
	"github.com/indigo-web/webserv/http"
	"github.com/indigo-web/webserv/http/method"
	"github.com/indigo-web/webserv/http/proto"
	"github.com/indigo-web/webserv/http/status"
	"github.com/indigo-web/webserv/internal/hexconv"
	"github.com/indigo-web/webserv/internal/urlencoded"
)

// Parser is an incremental HTTP/1.x request parser. Data may be fed in arbitrary portions,
// the unprocessed part is kept in the accumulation buffer between calls. A single parser
// is bound to a single request object and is meant to live as long as the connection does.
type Parser struct {
	cfg     *config.Config
	request *http.Request
	maxBody int64
	buff    []byte
	chunked chunkedParser
}

// NewParser returns a parser bound to the request. Bodies longer than maxBody are rejected
// with 413, zero maxBody disables the check.
func NewParser(cfg *config.Config, request *http.Request, maxBody int64) *Parser {
	return &Parser{
		cfg:     cfg,
		request: request,
		maxBody: maxBody,
		buff:    make([]byte, 0, cfg.NET.ReadBufferSize),
		chunked: newChunkedParser(maxBody),
	}
}

// Parse feeds the data into the parser. done is true once the request is complete. Errors
// returned are always status-carrying and after any of them the parser must not be used
// until reset.
func (p *Parser) Parse(data []byte) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			done, err = false, status.ErrInternalServerError
		}
	}()

	request := p.request

	switch request.State {
	case http.Header:
		p.buff = append(p.buff, data...)
		complete, err := p.parseHeaders()
		if err != nil || !complete {
			return false, err
		}

		return p.parseBody()
	case http.Body:
		p.buff = append(p.buff, data...)
		return p.parseBody()
	case http.Done:
		if len(data) > 0 {
			return true, status.ErrPipelining
		}

		return true, nil
	default:
		panic("unreachable code")
	}
}

// Reset prepares the parser and the request for the next request on the connection.
func (p *Parser) Reset() {
	p.request.Reset()
	p.buff = p.buff[:0]
	p.chunked = newChunkedParser(p.maxBody)
}

// Pending returns the count of buffered, yet unprocessed bytes.
func (p *Parser) Pending() int {
	return len(p.buff)
}

func (p *Parser) parseHeaders() (complete bool, err error) {
	cfg := p.cfg
	if err = p.checkEarlyURI(); err != nil {
		return false, err
	}

	end, termLen, crlf := findTerminator(p.buff)
	if end == -1 {
		if len(p.buff) > cfg.Headers.MaxSize {
			return false, status.ErrHeaderFieldsTooLarge
		}

		return false, nil
	}

	if end+termLen > cfg.Headers.MaxSize {
		return false, status.ErrHeaderFieldsTooLarge
	}

	sep := "\n"
	if crlf {
		sep = "\r\n"
	}

	block := uf.B2S(p.buff[:end])
	requestLine, fields, _ := strings.Cut(block, sep)
	if err = p.parseRequestLine(trimCR(requestLine, crlf)); err != nil {
		return false, err
	}

	for len(fields) > 0 {
		var line string
		line, fields, _ = strings.Cut(fields, sep)
		if crlf && strings.IndexByte(line, '\n') != -1 {
			return false, status.ErrBadHeader
		}

		if err = p.parseHeaderLine(trimCR(line, crlf)); err != nil {
			return false, err
		}
	}

	if err = p.finalizeHeaders(); err != nil {
		return false, err
	}

	// the header strings reference the buffer, so the body is moved into a new one instead
	// of being copied over the beginning of the old one
	rest := p.buff[end+termLen:]
	p.buff = append(make([]byte, 0, max(len(rest), p.cfg.NET.ReadBufferSize)), rest...)
	p.request.State = http.Body

	return true, nil
}

// checkEarlyURI rejects too long request-targets before the request line is complete,
// so a client can't keep the connection busy by sending an endless one.
func (p *Parser) checkEarlyURI() error {
	line := p.buff
	if lf := bytes.IndexByte(line, '\n'); lf != -1 {
		line = line[:lf]
	}

	sp := bytes.IndexByte(line, ' ')
	if sp == -1 {
		return nil
	}

	uri := line[sp+1:]
	if sp2 := bytes.IndexByte(uri, ' '); sp2 != -1 {
		uri = uri[:sp2]
	}

	if len(uri) > p.cfg.URI.MaxLength {
		return status.ErrURITooLong
	}

	return nil
}

func (p *Parser) parseRequestLine(line string) error {
	request := p.request

	rawMethod, rest, found := strings.Cut(line, " ")
	if !found {
		return status.ErrBadRequestLine
	}

	uri, rawProto, found := strings.Cut(rest, " ")
	if !found || strings.IndexByte(rawProto, ' ') != -1 {
		return status.ErrBadRequestLine
	}

	if !isToken(rawMethod) {
		return status.ErrBadRequestLine
	}

	if request.Method = method.Parse(rawMethod); request.Method == method.Unknown {
		return status.ErrMethodNotImplemented
	}

	if len(uri) > p.cfg.URI.MaxLength {
		return status.ErrURITooLong
	}

	if len(uri) == 0 || uri[0] != '/' {
		return status.ErrBadRequestLine
	}

	for i := 0; i < len(uri); i++ {
		if uri[i] <= ' ' || uri[i] == 0x7f {
			return status.ErrBadPath
		}
	}

	if hash := strings.IndexByte(uri, '#'); hash != -1 {
		uri = uri[:hash]
	}

	request.URI, request.RawQuery, _ = strings.Cut(uri, "?")
	if len(request.RawQuery) > 0 {
		query, err := urlencoded.ParseQuery(request.RawQuery)
		if err != nil {
			return err
		}

		request.Query = query
	}

	if request.Proto = proto.FromBytes(uf.S2B(rawProto)); request.Proto == proto.Unknown {
		return status.ErrUnsupportedProtocol
	}

	return nil
}

func (p *Parser) parseHeaderLine(line string) error {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 || !isToken(line[:colon]) {
		return status.ErrBadHeader
	}

	key, value := line[:colon], line[colon+1:]
	if len(value) == 0 || value[0] != ' ' {
		return status.ErrBadHeader
	}

	value = value[1:]
	if len(value) > 0 && value[0] == ' ' {
		return status.ErrBadHeader
	}

	for i := 0; i < len(value); i++ {
		if value[i] < ' ' || value[i] > '~' {
			return status.ErrBadHeader
		}
	}

	headers := p.request.Headers

	switch {
	case strcomp.EqualFold(key, "Content-Length"):
		if headers.Has(key) {
			return status.ErrBadContentLength
		}

		length, err := parseContentLength(value)
		if err != nil {
			return err
		}

		p.request.ContentLength = length
	case strcomp.EqualFold(key, "Transfer-Encoding"):
		if headers.Has(key) {
			return status.ErrUnsupportedEncoding
		}

		if !strcomp.EqualFold(value, "chunked") {
			return status.ErrUnsupportedEncoding
		}
	}

	headers.Set(key, value)

	return nil
}

func (p *Parser) finalizeHeaders() error {
	request := p.request
	headers := request.Headers

	if headers.Has("Transfer-Encoding") {
		if headers.Has("Content-Length") {
			return status.ErrAmbiguousLength
		}

		request.ContentLength = -1
	}

	if p.maxBody > 0 && request.ContentLength > p.maxBody {
		return status.ErrBodyTooLarge
	}

	host, found := headers.Get("Host")
	switch {
	case found:
		if err := p.parseHost(host); err != nil {
			return err
		}
	case request.Proto == proto.HTTP11:
		return status.ErrBadHost
	}

	request.KeepAlive = keepAlive(request.Proto, headers.Value("Connection"))

	return nil
}

func (p *Parser) parseHost(host string) error {
	name, port := host, ""

	if strings.HasPrefix(host, "[") {
		closing := strings.IndexByte(host, ']')
		if closing == -1 {
			return status.ErrBadHost
		}

		name, port = host[:closing+1], host[closing+1:]
		if len(port) > 0 {
			if port[0] != ':' {
				return status.ErrBadHost
			}

			port = port[1:]
		}

		for i := 1; i < len(name)-1; i++ {
			if c := name[i]; c != ':' && c != '.' && !hexconv.IsHex(c) {
				return status.ErrBadHost
			}
		}
	} else {
		if colon := strings.LastIndexByte(host, ':'); colon != -1 {
			name, port = host[:colon], host[colon+1:]
		}

		for i := 0; i < len(name); i++ {
			if !isHostChar(name[i]) {
				return status.ErrBadHost
			}
		}
	}

	if len(name) == 0 || len(port) > 5 || (len(port) == 0 && len(name) != len(host)) {
		return status.ErrBadHost
	}

	for i := 0; i < len(port); i++ {
		if port[i] < '0' || port[i] > '9' {
			return status.ErrBadHost
		}
	}

	p.request.Host, p.request.Port = name, port

	return nil
}

func (p *Parser) parseBody() (done bool, err error) {
	request := p.request

	switch length := request.ContentLength; {
	case length == 0:
	case length > 0:
		if int64(len(p.buff)) < length {
			return false, nil
		}

		if int64(len(p.buff)) > length {
			return false, status.ErrPipelining
		}

		request.Body = p.buff[:length]
		p.buff = p.buff[:0:0]
	default:
		n, body, err := p.chunked.Parse(p.buff, request.Body)
		request.Body = body
		switch err {
		case nil:
			// keep the memory, unless nothing has been consumed
			if n > 0 {
				p.buff = append(p.buff[:0], p.buff[n:]...)
			}

			return false, nil
		case io.EOF:
			if n < len(p.buff) {
				return false, status.ErrPipelining
			}

			p.buff = p.buff[:0]
		default:
			return false, err
		}
	}

	if len(p.buff) > 0 {
		return false, status.ErrPipelining
	}

	request.State = http.Done

	return true, nil
}

// findTerminator returns the index at which the headers section ends. Both CRLFCRLF and
// LFLF are recognized, the earliest wins.
func findTerminator(data []byte) (end, termLen int, crlf bool) {
	crlfEnd := bytes.Index(data, []byte("\r\n\r\n"))
	lfEnd := bytes.Index(data, []byte("\n\n"))

	switch {
	case crlfEnd == -1 && lfEnd == -1:
		return -1, 0, false
	case lfEnd == -1 || (crlfEnd != -1 && crlfEnd < lfEnd):
		return crlfEnd, 4, true
	default:
		return lfEnd, 2, false
	}
}

func trimCR(line string, crlf bool) string {
	if !crlf && len(line) > 0 && line[len(line)-1] == '\r' {
		return line[:len(line)-1]
	}

	return line
}

func parseContentLength(value string) (int64, error) {
	if len(value) == 0 || len(value) > 18 {
		return 0, status.ErrBadContentLength
	}

	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return 0, status.ErrBadContentLength
		}
	}

	length, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, status.ErrBadContentLength
	}

	return length, nil
}

// keepAlive decides whether the connection persists after the response. HTTP/1.1 does
// unless asked to close, HTTP/1.0 doesn't unless asked to keep it.
func keepAlive(protocol proto.Proto, connection string) bool {
	for len(connection) > 0 {
		var token string
		token, connection, _ = strings.Cut(connection, ",")
		token = strings.TrimSpace(token)

		switch {
		case strcomp.EqualFold(token, "close"):
			return false
		case strcomp.EqualFold(token, "keep-alive"):
			return true
		}
	}

	return protocol == proto.HTTP11
}

func isToken(str string) bool {
	if len(str) == 0 {
		return false
	}

	for i := 0; i < len(str); i++ {
		if !tokenChars[str[i]] {
			return false
		}
	}

	return true
}

func isHostChar(c byte) bool {
	return c == '-' || c == '.' || c == '_' || c == '~' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// tokenChars is the tchar set of RFC 9110, 5.6.2.
var tokenChars = func() (table [256]bool) {
	for c := '0'; c <= '9'; c++ {
		table[c] = true
	}

	for c := 'a'; c <= 'z'; c++ {
		table[c] = true
		table[c-'a'+'A'] = true
	}

	for _, c := range "!#$%&'*+-.^_`|~" {
		table[c] = true
	}

	return table
}()
