package transport

import (
	"net"
	"os/signal"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/indigo-web/webserv/config"
	"github.com/indigo-web/webserv/internal/timer"
	"github.com/indigo-web/webserv/router"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Reactor is a single-threaded event loop multiplexing listeners, clients and CGI scripts'
// pipes. The reactor exclusively owns the table of connections: handlers only report what
// has to be done with the connection, and the reactor applies it.
//
// All the methods except Stop must be called from the same goroutine.
type Reactor struct {
	cfg       *config.Config
	logger    zerolog.Logger
	poller    *poller
	conns     map[int]*conn
	lastID    uint64
	buff      []byte
	addrs     []net.Addr
	lastSweep time.Time
	// reaping holds scripts awaited by polling, when pidfds aren't supported.
	reaping []*bridge
	stopped atomic.Bool
	closed  bool
}

func New(cfg *config.Config, logger zerolog.Logger) (*Reactor, error) {
	if cfg.NET.IgnoreSIGPIPE {
		signal.Ignore(unix.SIGPIPE)
	}

	p, err := newPoller(cfg.NET.MaxEvents)
	if err != nil {
		return nil, err
	}

	return &Reactor{
		cfg:    cfg,
		logger: logger,
		poller: p,
		conns:  make(map[int]*conn),
		buff:   make([]byte, cfg.NET.ReadBufferSize),
	}, nil
}

// Bind starts listening on the server's address. Requests accepted by the listener are routed
// by the passed router. The actually bound address is returned, which is handy when the
// port is 0.
func (r *Reactor) Bind(srv *config.ServerConfig, rt router.Router) (net.Addr, error) {
	fd, addr, err := bind(srv.Host, srv.Port, r.cfg.NET.Backlog)
	if err != nil {
		return nil, err
	}

	c := r.newConn(kListener, fd, readable)
	c.listener = &listener{server: &server{config: srv, router: rt}}
	if err = r.register(c); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	r.addrs = append(r.addrs, addr)
	r.logger.Info().Str("addr", addr.String()).Str("server", srv.Name()).Msg("listening")

	return addr, nil
}

// Addrs returns addresses of all the bound listeners.
func (r *Reactor) Addrs() []net.Addr {
	return r.addrs
}

// Run processes events until Stop is called. Every connection is released on return.
// Errors of a single connection never stop the loop, only failures of the poller itself do.
func (r *Reactor) Run() error {
	defer r.Close()

	timeout := int(r.cfg.NET.SweepInterval / time.Millisecond)
	r.lastSweep = timer.Now()

	for !r.stopped.Load() {
		wait := timeout
		if len(r.reaping) > 0 {
			wait = min(wait, reapPollInterval)
		}

		events, err := r.poller.wait(wait)
		if err != nil {
			return err
		}

		for _, ev := range events {
			fd := int(ev.Fd)
			if fd == r.poller.wakefd {
				r.poller.drainWake()
				continue
			}

			c, found := r.conns[fd]
			if !found || uint32(c.id) != uint32(ev.Pad) {
				// the connection was removed while handling previous events of the batch
				continue
			}

			r.dispatch(c, ev.Events)
		}

		if len(r.reaping) > 0 {
			r.pollReaping()
		}

		if timer.Since(r.lastSweep) >= r.cfg.NET.SweepInterval {
			r.sweep()
		}
	}

	return nil
}

// reapPollInterval is how often scripts are polled for exit when pidfds are unavailable.
const reapPollInterval = 50

// Stop interrupts Run. Safe to be called from any goroutine, multiple times.
func (r *Reactor) Stop() {
	r.stopped.Store(true)
	r.poller.wake()
}

// Close releases all the connections, terminating running scripts. It's called by Run
// automatically, but must be called explicitly if Run was never called.
func (r *Reactor) Close() {
	if r.closed {
		return
	}

	r.closed = true

	// clients go first, so scripts they wait for are accounted as aborted
	for _, c := range r.conns {
		if c.kind == kClient {
			r.remove(c)
		}
	}

	for _, c := range r.conns {
		r.remove(c)
	}

	for _, b := range r.reaping {
		b.proc.Kill()
		r.onExit(b, b.proc.Wait())
	}

	r.reaping = nil
	r.poller.close()
	r.logger.Info().Msg("stopped")
}

func (r *Reactor) dispatch(c *conn, events uint32) {
	eff, spawned := r.handle(c, events)

	switch eff {
	case none:
	case spawn:
		for _, s := range spawned {
			if err := r.register(s); err != nil {
				r.logger.Error().Err(err).Str("kind", s.kind.String()).Msg("cannot register connection")
				r.remove(s)
			}
		}
	case remove:
		r.remove(c)
	default:
		panic("unreachable code")
	}
}

// handle is the recovery boundary: a panic in a handler affects only its connection.
func (r *Reactor) handle(c *conn, events uint32) (eff effect, spawned []*conn) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("kind", c.kind.String()).
				Int("fd", c.fd).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("recovered from panic in connection handler")
			eff, spawned = remove, nil
		}
	}()

	switch c.kind {
	case kListener:
		return r.onAccept(c)
	case kClient:
		return r.onClient(c, events)
	case kCGIOutput:
		return r.onCGIOutput(c)
	case kCGIInput:
		return r.onCGIInput(c)
	case kCGIExit:
		return r.onCGIExit(c)
	default:
		panic("unreachable code")
	}
}

func (r *Reactor) newConn(k kind, fd int, interest uint32) *conn {
	r.lastID++

	return &conn{
		kind:     k,
		fd:       fd,
		id:       r.lastID,
		interest: interest,
	}
}

func (r *Reactor) register(c *conn) error {
	if err := r.poller.add(c.fd, uint32(c.id), c.interest); err != nil {
		return err
	}

	r.conns[c.fd] = c

	return nil
}

func (r *Reactor) setInterest(c *conn, interest uint32) {
	if c.interest == interest {
		return
	}

	if err := r.poller.modify(c.fd, uint32(c.id), interest); err != nil {
		// the connection can't be driven anymore, so the sweep will eventually collect it
		r.logger.Error().Err(err).Int("fd", c.fd).Msg("cannot change interest")
		return
	}

	c.interest = interest
}

// resolve returns the connection the handle refers to, or nil if it's gone.
func (r *Reactor) resolve(h handle) *conn {
	if !h.valid() {
		return nil
	}

	c, found := r.conns[h.fd]
	if !found || c.id != h.id {
		return nil
	}

	return c
}

// remove unregisters the connection and releases its resources. Removing a connection
// twice is a no-op.
func (r *Reactor) remove(c *conn) {
	if c.closed {
		return
	}

	c.closed = true
	if r.conns[c.fd] == c {
		delete(r.conns, c.fd)
		r.poller.remove(c.fd)
	}

	switch c.kind {
	case kListener:
		_ = unix.Close(c.fd)
	case kClient:
		r.releaseClient(c)
	case kCGIOutput:
		r.releaseCGIOutput(c)
	case kCGIInput:
		c.bridge.proc.CloseStdin()
	case kCGIExit:
		r.releaseCGIExit(c)
	default:
		panic("unreachable code")
	}
}

// sweep closes clients which stayed inactive for too long and resumes paused listeners.
func (r *Reactor) sweep() {
	now := timer.Now()
	r.lastSweep = now

	for _, c := range r.conns {
		if c.kind == kListener && c.listener.paused {
			c.listener.paused = false
			r.setInterest(c, readable)
			continue
		}

		if c.kind != kClient {
			continue
		}

		if now.Sub(c.client.lastActive) > r.cfg.NET.IdleTimeout {
			r.logger.Debug().Int("fd", c.fd).Str("remote", c.client.request.Remote).Msg("closing idle connection")
			r.remove(c)
		}
	}
}
