package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/indigo-web/webserv/http/method"
	"github.com/indigo-web/webserv/http/status"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8080
)

// DefaultMethods are allowed in locations that don't list methods explicitly.
var DefaultMethods = method.NewSet(method.GET, method.HEAD)

// Location maps a URI prefix to a document root and the policy scoped by the prefix.
type Location struct {
	// Name is the URI prefix with trailing slashes trimmed (except for the root "/").
	Name string `json:"name"`
	// Root is the filesystem directory the remainder of the URI is resolved against.
	Root          string     `json:"root,omitempty"`
	Methods       method.Set `json:"methods"`
	Index         []string   `json:"index,omitempty"`
	Autoindex     bool       `json:"autoindex"`
	CGI           bool       `json:"cgi"`
	CGIExtensions []string   `json:"cgi_extensions,omitempty"`
	// UploadPath is the directory POST bodies are stored in. Root is used if empty.
	UploadPath string `json:"upload,omitempty"`
	// Redirect, if set, makes the location answer every request with 301 to the target.
	Redirect string `json:"return,omitempty"`
}

// ServerConfig describes a single listener. Requests are routed by the listening port only.
type ServerConfig struct {
	Host        string                 `json:"host"`
	Port        uint16                 `json:"port"`
	ServerName  string                 `json:"server_name,omitempty"`
	MaxBodySize int64                  `json:"client_max_body_size"`
	ErrorPages  map[status.Code]string `json:"error_pages,omitempty"`
	Locations   []Location             `json:"locations"`
}

// NewServer returns a server config with defaults applied.
func NewServer() ServerConfig {
	return ServerConfig{
		Host:        DefaultHost,
		Port:        DefaultPort,
		MaxBodySize: Default().Body.DefaultMaxSize,
		ErrorPages:  make(map[status.Code]string),
	}
}

// Addr returns the address the server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

// Name returns the configured server name, or the listening host otherwise.
func (s ServerConfig) Name() string {
	if len(s.ServerName) > 0 {
		return s.ServerName
	}

	return s.Host
}

// Validate checks the invariants the router relies on.
func (s *ServerConfig) Validate() error {
	if len(s.Locations) == 0 {
		return fmt.Errorf("server %s: no locations", s.Addr())
	}

	if s.MaxBodySize < 0 {
		return fmt.Errorf("server %s: negative client_max_body_size", s.Addr())
	}

	seen := make(map[string]struct{}, len(s.Locations))

	for i := range s.Locations {
		loc := &s.Locations[i]
		if !strings.HasPrefix(loc.Name, "/") {
			return fmt.Errorf("location %q: must start with a slash", loc.Name)
		}

		loc.Name = NormalizeLocation(loc.Name)
		if _, dup := seen[loc.Name]; dup {
			return fmt.Errorf("location %q: duplicate", loc.Name)
		}

		seen[loc.Name] = struct{}{}

		if err := loc.validate(); err != nil {
			return fmt.Errorf("location %q: %w", loc.Name, err)
		}
	}

	return nil
}

func (l *Location) validate() error {
	if l.Methods == 0 {
		l.Methods = DefaultMethods
	}

	if len(l.Redirect) > 0 {
		return nil
	}

	if len(l.Root) == 0 {
		return errors.New("root is not set")
	}

	if l.CGI && len(l.CGIExtensions) == 0 {
		return errors.New("cgi is enabled, but no cgi_extensions are allowed")
	}

	for _, ext := range l.CGIExtensions {
		if len(ext) < 2 || ext[0] != '.' || strings.ContainsRune(ext, '/') {
			return fmt.Errorf("bad cgi extension %q", ext)
		}
	}

	return nil
}

// NormalizeLocation removes trailing slashes, so "/img" and "/img/" are the same location.
// The root location stays untouched.
func NormalizeLocation(name string) string {
	for i := len(name) - 1; i > 0; i-- {
		if name[i] != '/' {
			return name[:i+1]
		}
	}

	if len(name) > 0 {
		return name[:1]
	}

	return name
}

// ValidateAll validates every server and ensures no two of them share a port.
func ValidateAll(servers []ServerConfig) error {
	if len(servers) == 0 {
		return errors.New("no servers configured")
	}

	ports := make(map[uint16]struct{}, len(servers))

	for i := range servers {
		// port 0 asks the kernel for an ephemeral one, so it never clashes
		if port := servers[i].Port; port != 0 {
			if _, dup := ports[port]; dup {
				return fmt.Errorf("port %d: declared by more than one server", port)
			}

			ports[port] = struct{}{}
		}

		if err := servers[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}
