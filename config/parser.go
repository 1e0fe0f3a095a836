package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/indigo-web/webserv/http/method"
	"github.com/indigo-web/webserv/http/status"
)

// Error is a configuration error bound to a line of the source.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: line %d: %s", e.Line, e.Msg)
}

// Load reads and parses the configuration file.
func Load(path string) ([]ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	defer f.Close()

	return Parse(f)
}

// Parse reads a configuration consisting of server blocks:
//
//	server {
//	    listen 127.0.0.1:8080;
//	    server_name example;
//	    client_max_body_size 1m;
//	    error_page 404 /var/www/errors/404.html;
//	    location / {
//	        root /var/www;
//	        methods GET POST DELETE;
//	        index index.html;
//	        autoindex on;
//	    }
//	    location /cgi-bin {
//	        root /var/www/cgi-bin;
//	        cgi on;
//	        cgi_extensions .py .sh;
//	    }
//	}
//
// Every directive may appear at most once per block, except for error_page and location.
// The returned servers are validated.
func Parse(r io.Reader) ([]ServerConfig, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tokens, err := tokenize(string(src))
	if err != nil {
		return nil, err
	}

	p := parser{tokens: tokens}
	servers, err := p.parseFile()
	if err != nil {
		return nil, err
	}

	if err = ValidateAll(servers); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return servers, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}

	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, p.errorf(tok, "expected %s, got %s", what, tok)
	}

	return tok, nil
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &Error{Line: tok.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseFile() (servers []ServerConfig, err error) {
	for p.peek().kind != tokenEOF {
		tok := p.next()
		if tok.kind != tokenWord || tok.value != "server" {
			return nil, p.errorf(tok, "expected server block, got %s", tok)
		}

		if _, err = p.expect(tokenOpen, "'{'"); err != nil {
			return nil, err
		}

		server, err := p.parseServer()
		if err != nil {
			return nil, err
		}

		servers = append(servers, server)
	}

	return servers, nil
}

// directive reads the directive arguments till the semicolon.
func (p *parser) directive() (args []string, err error) {
	for {
		switch tok := p.next(); tok.kind {
		case tokenWord:
			args = append(args, tok.value)
		case tokenSemicolon:
			return args, nil
		default:
			return nil, p.errorf(tok, "expected ';', got %s", tok)
		}
	}
}

// onceGuard rejects repeated directives within a single block.
type onceGuard map[string]struct{}

func (o onceGuard) check(p *parser, tok token) error {
	if _, seen := o[tok.value]; seen {
		return p.errorf(tok, "directive %q is duplicated", tok.value)
	}

	o[tok.value] = struct{}{}
	return nil
}

func (p *parser) parseServer() (ServerConfig, error) {
	server := NewServer()
	guard := make(onceGuard)

	var (
		defaultRoot  string
		defaultIndex []string
		names        = make(map[string]int)
	)

	for {
		tok := p.next()
		switch tok.kind {
		case tokenClose:
			for i := range server.Locations {
				loc := &server.Locations[i]
				if len(loc.Root) == 0 {
					loc.Root = defaultRoot
				}

				if loc.Index == nil {
					loc.Index = defaultIndex
				}
			}

			return server, nil
		case tokenWord:
		default:
			return server, p.errorf(tok, "expected directive, got %s", tok)
		}

		if tok.value == "location" {
			loc, err := p.parseLocation()
			if err != nil {
				return server, err
			}

			if line, dup := names[loc.Name]; dup {
				return server, p.errorf(tok, "location %q is already declared at line %d", loc.Name, line)
			}

			names[loc.Name] = tok.line
			server.Locations = append(server.Locations, loc)
			continue
		}

		if tok.value != "error_page" {
			if err := guard.check(p, tok); err != nil {
				return server, err
			}
		}

		args, err := p.directive()
		if err != nil {
			return server, err
		}

		switch tok.value {
		case "listen":
			if len(args) != 1 {
				return server, p.errorf(tok, "listen: expected exactly one address")
			}

			server.Host, server.Port, err = parseListen(args[0])
		case "server_name":
			if len(args) != 1 {
				return server, p.errorf(tok, "server_name: expected exactly one name")
			}

			server.ServerName = args[0]
		case "client_max_body_size":
			if len(args) != 1 {
				return server, p.errorf(tok, "client_max_body_size: expected exactly one size")
			}

			server.MaxBodySize, err = parseSize(args[0])
		case "error_page":
			err = parseErrorPage(server.ErrorPages, args)
		case "root":
			if len(args) != 1 {
				return server, p.errorf(tok, "root: expected exactly one path")
			}

			defaultRoot = args[0]
		case "index":
			if len(args) == 0 {
				return server, p.errorf(tok, "index: expected at least one file name")
			}

			defaultIndex = args
		default:
			return server, p.errorf(tok, "unknown directive %q", tok.value)
		}

		if err != nil {
			return server, p.errorf(tok, "%s: %s", tok.value, err)
		}
	}
}

func (p *parser) parseLocation() (loc Location, err error) {
	name, err := p.expect(tokenWord, "location name")
	if err != nil {
		return loc, err
	}

	if !strings.HasPrefix(name.value, "/") {
		return loc, p.errorf(name, "location name must start with a slash")
	}

	loc.Name = NormalizeLocation(name.value)

	if _, err = p.expect(tokenOpen, "'{'"); err != nil {
		return loc, err
	}

	guard := make(onceGuard)

	for {
		tok := p.next()
		switch tok.kind {
		case tokenClose:
			return loc, nil
		case tokenWord:
		default:
			return loc, p.errorf(tok, "expected directive, got %s", tok)
		}

		if err = guard.check(p, tok); err != nil {
			return loc, err
		}

		args, err := p.directive()
		if err != nil {
			return loc, err
		}

		if len(args) == 0 {
			return loc, p.errorf(tok, "%s: expected arguments", tok.value)
		}

		switch tok.value {
		case "root":
			err = single(args)
			loc.Root = args[0]
		case "methods":
			loc.Methods, err = parseMethods(args)
		case "index":
			loc.Index = args
		case "autoindex":
			loc.Autoindex, err = parseSwitch(args)
		case "cgi":
			loc.CGI, err = parseSwitch(args)
		case "cgi_extensions":
			loc.CGIExtensions = args
		case "upload":
			err = single(args)
			loc.UploadPath = args[0]
		case "return":
			err = single(args)
			loc.Redirect = args[0]
		default:
			return loc, p.errorf(tok, "unknown directive %q", tok.value)
		}

		if err != nil {
			return loc, p.errorf(tok, "%s: %s", tok.value, err)
		}
	}
}

func single(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one argument, got %d", len(args))
	}

	return nil
}

func parseSwitch(args []string) (bool, error) {
	if err := single(args); err != nil {
		return false, err
	}

	switch args[0] {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", args[0])
	}
}

func parseMethods(args []string) (set method.Set, err error) {
	for _, arg := range args {
		m := method.Parse(arg)
		if m == method.Unknown {
			return 0, fmt.Errorf("unsupported method %q", arg)
		}

		if set.Has(m) {
			return 0, fmt.Errorf("method %s is listed twice", arg)
		}

		set = set.With(m)
	}

	return set, nil
}

func parseListen(addr string) (host string, port uint16, err error) {
	host, rawPort := DefaultHost, addr
	if strings.ContainsRune(addr, ':') {
		host, rawPort, err = net.SplitHostPort(addr)
		if err != nil {
			return "", 0, err
		}

		if len(host) == 0 {
			host = DefaultHost
		}
	}

	value, err := strconv.ParseUint(rawPort, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("bad port %q", rawPort)
	}

	return host, uint16(value), nil
}

// parseSize accepts plain byte counts as well as k and m suffixes.
func parseSize(raw string) (int64, error) {
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(raw, "k"), strings.HasSuffix(raw, "K"):
		multiplier = 1024
		raw = raw[:len(raw)-1]
	case strings.HasSuffix(raw, "m"), strings.HasSuffix(raw, "M"):
		multiplier = 1024 * 1024
		raw = raw[:len(raw)-1]
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("bad size %q", raw)
	}

	if value > math.MaxInt64/multiplier {
		return 0, fmt.Errorf("size %q is too large", raw)
	}

	return value * multiplier, nil
}

func parseErrorPage(pages map[status.Code]string, args []string) error {
	if len(args) < 2 {
		return errors.New("expected at least one code and a path")
	}

	path := args[len(args)-1]

	for _, raw := range args[:len(args)-1] {
		code, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || code < 300 || code > 599 {
			return fmt.Errorf("bad status code %q", raw)
		}

		if _, dup := pages[status.Code(code)]; dup {
			return fmt.Errorf("page for %s is already set", raw)
		}

		pages[status.Code(code)] = path
	}

	return nil
}
