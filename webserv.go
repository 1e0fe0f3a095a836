package webserv

import (
	"net"
	"sync"

	"github.com/indigo-web/webserv/config"
	"github.com/indigo-web/webserv/http/mime"
	"github.com/indigo-web/webserv/router"
	"github.com/indigo-web/webserv/transport"
	"github.com/rs/zerolog"
)

// App serves a set of servers, each listening on its own port, in a single event loop.
type App struct {
	cfg     *config.Config
	servers []config.ServerConfig
	logger  zerolog.Logger
	mime    mime.Table
	hooks   hooks

	mu      sync.Mutex
	reactor *transport.Reactor
	addrs   []net.Addr
	stopped bool
}

// New returns a new App instance. Servers are validated only when Serve is called.
func New(servers []config.ServerConfig) *App {
	return &App{
		cfg:     config.Default(),
		servers: servers,
		logger:  zerolog.Nop(),
		mime:    mime.Default(),
	}
}

// Tune replaces default config.
func (a *App) Tune(cfg *config.Config) *App {
	a.cfg = cfg
	return a
}

// Logger sets the logger. Nothing is logged by default.
func (a *App) Logger(logger zerolog.Logger) *App {
	a.logger = logger
	return a
}

// MIME replaces the table used to pick the Content-Type of static files.
func (a *App) MIME(table mime.Table) *App {
	a.mime = table
	return a
}

// NotifyOnStart calls the callback at the moment, when all the servers are bound. Connections
// are accepted right after the callback returns
func (a *App) NotifyOnStart(cb func()) *App {
	a.hooks.OnStart = cb
	return a
}

// NotifyOnStop calls the callback at the moment, when the event loop is done. It's guaranteed,
// that at the moment as the callback is called, all the clients are already disconnected and
// all the scripts are reaped
func (a *App) NotifyOnStop(cb func()) *App {
	a.hooks.OnStop = cb
	return a
}

// Serve binds all the servers and runs the event loop until Stop is called. Only failures
// to start are returned, errors of single connections never stop the app.
func (a *App) Serve() error {
	if err := config.ValidateAll(a.servers); err != nil {
		return err
	}

	reactor, err := transport.New(a.cfg, a.logger)
	if err != nil {
		return err
	}

	addrs := make([]net.Addr, 0, len(a.servers))

	for i := range a.servers {
		srv := &a.servers[i]
		addr, err := reactor.Bind(srv, router.New(a.cfg, srv, a.mime))
		if err != nil {
			reactor.Close()
			return err
		}

		addrs = append(addrs, addr)
	}

	a.mu.Lock()
	a.reactor, a.addrs = reactor, addrs
	if a.stopped {
		reactor.Stop()
	}
	a.mu.Unlock()

	callIfNotNil(a.hooks.OnStart)
	err = reactor.Run()
	callIfNotNil(a.hooks.OnStop)

	return err
}

// Addrs returns the addresses the servers are actually bound to, in the order the servers
// were passed. It's empty until the app is started.
func (a *App) Addrs() []net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.addrs
}

// Stop makes Serve return, closing every connection and killing running scripts.
//
// NOTE: the call isn't blocking. So by that, after the method returned, the server
// may still be working
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	if a.reactor != nil {
		a.reactor.Stop()
	}
}

type hooks struct {
	OnStart, OnStop func()
}

func callIfNotNil(f func()) {
	if f != nil {
		f()
	}
}
