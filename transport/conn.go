package transport

import (
	"time"

	"github.com/indigo-web/webserv/config"
	"github.com/indigo-web/webserv/http"
	"github.com/indigo-web/webserv/internal/cgi"
	"github.com/indigo-web/webserv/internal/protocol/http1"
	"github.com/indigo-web/webserv/router"
)

type kind uint8

const (
	kListener kind = iota + 1
	kClient
	// kCGIOutput reads the script's standard output
	kCGIOutput
	// kCGIInput writes the request body into the script's standard input
	kCGIInput
	// kCGIExit is the script's pidfd, readable once the script exits
	kCGIExit
)

func (k kind) String() string {
	switch k {
	case kListener:
		return "listener"
	case kClient:
		return "client"
	case kCGIOutput:
		return "cgi-output"
	case kCGIInput:
		return "cgi-input"
	case kCGIExit:
		return "cgi-exit"
	default:
		return "unknown"
	}
}

// effect tells the reactor what to do with the connection after its readiness is handled.
type effect uint8

const (
	none effect = iota
	// spawn registers the connections returned along with the effect
	spawn
	// remove unregisters the connection and releases its resources
	remove
)

// handle is a stable reference to a connection. Descriptors are reused by the kernel, so
// the id disambiguates a closed connection from a newer one with the same descriptor.
type handle struct {
	fd int
	id uint64
}

func (h handle) valid() bool {
	return h.id != 0
}

// conn is the tagged union of everything registered in the poller. Exactly one of the
// variant pointers is set, according to kind. A conn owns exactly one descriptor.
type conn struct {
	kind     kind
	fd       int
	id       uint64
	interest uint32
	closed   bool

	listener *listener
	client   *client
	bridge   *bridge
}

func (c *conn) handle() handle {
	return handle{fd: c.fd, id: c.id}
}

// server is a single listening endpoint along with the router of its locations.
type server struct {
	config *config.ServerConfig
	router router.Router
}

type listener struct {
	server *server
	// paused is set when accepting fails for the lack of descriptors. The listener is
	// resumed by the next sweep.
	paused bool
}

type client struct {
	server     *server
	request    *http.Request
	response   *http.Response
	parser     *http1.Parser
	serializer *http1.Serializer
	// out is the serialized response which is yet to be written.
	out       []byte
	keepAlive bool
	// bridge refers to the script the client waits for, if any. That's its output while
	// it's being read, and its exit afterward.
	bridge     handle
	lastActive time.Time
}

// bridge is shared by all the descriptors of a single script.
type bridge struct {
	proc   *cgi.Process
	output []byte
	// complete is set as soon as the script's output reaches EOF.
	complete bool
	owner    handle
	input    handle
}
