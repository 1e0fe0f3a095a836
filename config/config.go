package config

import (
	"time"
)

type (
	URI struct {
		// MaxLength limits the request-target. Longer ones are rejected with 414 Request URI
		// Too Long as soon as the limit is crossed, even if the request line isn't complete yet.
		MaxLength int
	}

	Headers struct {
		// MaxSize limits the whole headers section, including the request line. Exceeding it
		// results in 431 Request Header Fields Too Large.
		MaxSize int
		// Prealloc is the initial capacity of the request headers storage.
		Prealloc int
	}

	Body struct {
		// DefaultMaxSize is used by servers that don't set client_max_body_size explicitly.
		DefaultMaxSize int64
	}

	NET struct {
		// ReadBufferSize is a size of buffer in bytes which will be used to read from
		// sockets and CGI pipes
		ReadBufferSize int
		// IdleTimeout controls the maximal lifetime of IDLE connections. If no activity
		// happened in this period of time, the connection is closed by the sweep.
		IdleTimeout time.Duration
		// SweepInterval controls how often idle connections are looked for. It's also the
		// upper bound of how long the reactor may block waiting for events.
		SweepInterval time.Duration
		// Backlog is passed to listen(2).
		Backlog int
		// MaxEvents is the number of readiness events fetched per wait.
		MaxEvents int
		// IgnoreSIGPIPE disables process termination on writes into a closed pipe or socket.
		IgnoreSIGPIPE bool `test:"nullable"`
	}

	CGI struct {
		// Software is exposed to scripts as SERVER_SOFTWARE and used in the Server header.
		Software string
		// Interface is exposed to scripts as GATEWAY_INTERFACE.
		Interface string
	}
)

// Config holds process-wide limits and tunables. Per-listener settings are stored
// in ServerConfig instead.
//
// You must ALWAYS modify defaults (returned via Default()) and NEVER try to initialize the
// config manually, because most likely this will result in ambiguous errors.
type Config struct {
	URI     URI
	Headers Headers
	Body    Body
	NET     NET
	CGI     CGI
}

// Default returns default config.
func Default() *Config {
	return &Config{
		URI: URI{
			MaxLength: 1024,
		},
		Headers: Headers{
			MaxSize:  8192,
			Prealloc: 10,
		},
		Body: Body{
			DefaultMaxSize: 16384,
		},
		NET: NET{
			ReadBufferSize: 4 * 1024,
			IdleTimeout:    60 * time.Second,
			SweepInterval:  time.Second,
			Backlog:        128,
			MaxEvents:      128,
			IgnoreSIGPIPE:  true,
		},
		CGI: CGI{
			Software:  "webserv/1.0",
			Interface: "CGI/1.1",
		},
	}
}
