package transport

import (
	"github.com/indigo-web/webserv/http"
	"github.com/indigo-web/webserv/http/status"
	"github.com/indigo-web/webserv/internal/protocol/http1"
	"github.com/indigo-web/webserv/internal/timer"
	"github.com/indigo-web/webserv/kv"
	"golang.org/x/sys/unix"
)

func (r *Reactor) onAccept(c *conn) (effect, []*conn) {
	var spawned []*conn

	for {
		fd, remote, ok, err := accept(c.fd)
		if err != nil {
			// most likely the descriptors limit is hit. The listener would stay readable,
			// so it's paused until the next sweep instead of being retried right away
			r.logger.Error().Err(err).Msg("cannot accept connection, pausing the listener")
			c.listener.paused = true
			r.setInterest(c, 0)
			break
		}

		if !ok {
			break
		}

		spawned = append(spawned, r.newClient(fd, remote, c.listener.server))
		r.logger.Debug().Int("fd", fd).Str("remote", remote).Msg("accepted connection")
	}

	if len(spawned) == 0 {
		return none, nil
	}

	return spawn, spawned
}

func (r *Reactor) newClient(fd int, remote string, srv *server) *conn {
	request := http.NewRequest(kv.NewPrealloc(r.cfg.Headers.Prealloc))
	request.Remote = remote

	c := r.newConn(kClient, fd, readable)
	c.client = &client{
		server:     srv,
		request:    request,
		response:   http.NewResponse(),
		parser:     http1.NewParser(r.cfg, request, srv.config.MaxBodySize),
		serializer: http1.NewSerializer(r.cfg, nil),
		lastActive: timer.Now(),
	}

	return c
}

func (r *Reactor) onClient(c *conn, events uint32) (effect, []*conn) {
	if events&unix.EPOLLERR != 0 {
		return remove, nil
	}

	if c.client.bridge.valid() {
		// nothing is expected from the client while its script is running, except
		// for the hangup which aborts the script
		if events&unix.EPOLLHUP != 0 {
			return remove, nil
		}

		return none, nil
	}

	if c.interest&writable != 0 {
		return r.flush(c)
	}

	return r.read(c)
}

func (r *Reactor) read(c *conn) (effect, []*conn) {
	cl := c.client

	n, err := unix.Read(c.fd, r.buff)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return none, nil
	case err != nil, n == 0:
		return remove, nil
	}

	cl.lastActive = timer.Now()

	done, err := cl.parser.Parse(r.buff[:n])
	if err != nil {
		r.fail(c, err)
		return none, nil
	}

	if !done {
		return none, nil
	}

	return r.serve(c)
}

// serve routes the complete request. It either responds right away or spawns the script's
// pipes, which respond on the client's behalf when the script is done.
func (r *Reactor) serve(c *conn) (effect, []*conn) {
	cl := c.client
	cl.response.Clear()

	proc, response := cl.server.router.OnRequest(cl.request, cl.response)
	if proc == nil {
		r.respond(c, response, cl.request.KeepAlive)
		return none, nil
	}

	b := &bridge{proc: proc, owner: c.handle()}
	output := r.newConn(kCGIOutput, proc.Stdout, unix.EPOLLIN)
	output.bridge = b
	spawned := []*conn{output}

	if proc.Stdin != -1 {
		input := r.newConn(kCGIInput, proc.Stdin, writable)
		input.bridge = b
		b.input = input.handle()
		spawned = append(spawned, input)
	}

	cl.bridge = output.handle()
	r.setInterest(c, 0)
	r.logger.Debug().
		Int("pid", proc.Pid()).
		Str("uri", cl.request.URI).
		Msg("script started")

	return spawn, spawned
}

// fail responds with the error page for err and closes the connection afterward, as the
// stream can't be trusted anymore.
func (r *Reactor) fail(c *conn, err error) {
	cl := c.client
	r.logger.Debug().
		Err(err).
		Str("remote", cl.request.Remote).
		Msg("malformed request")
	r.respond(c, cl.server.router.OnError(cl.request, cl.response, err), false)
}

func (r *Reactor) respond(c *conn, response *http.Response, keepAlive bool) {
	cl := c.client
	cl.keepAlive = keepAlive
	cl.out = cl.serializer.Serialize(cl.request, response, keepAlive)

	fields := response.Expose()
	r.logger.Info().
		Str("remote", cl.request.Remote).
		Str("method", cl.request.Method.String()).
		Str("uri", cl.request.URI).
		Uint16("status", uint16(fields.Code)).
		Int("size", len(fields.Body)).
		Msg("request")

	r.setInterest(c, writable)
}

func (r *Reactor) flush(c *conn) (effect, []*conn) {
	cl := c.client

	for len(cl.out) > 0 {
		n, err := unix.Write(c.fd, cl.out)
		switch err {
		case nil:
			cl.out = cl.out[n:]
		case unix.EINTR:
		case unix.EAGAIN:
			cl.lastActive = timer.Now()
			return none, nil
		default:
			return remove, nil
		}
	}

	cl.lastActive = timer.Now()
	if !cl.keepAlive {
		return remove, nil
	}

	cl.parser.Reset()
	cl.response.Clear()
	r.setInterest(c, readable)

	return none, nil
}

func (r *Reactor) releaseClient(c *conn) {
	cl := c.client
	if b := r.resolve(cl.bridge); b != nil {
		cl.bridge = handle{}
		switch b.kind {
		case kCGIOutput:
			r.remove(b)
		case kCGIExit:
			// the output is read already, the script is just running for too long.
			// Its exit is still awaited, so it's reaped as usual
			b.bridge.owner = handle{}
			b.bridge.proc.Kill()
		}
	}

	self := c.handle()
	for _, b := range r.reaping {
		if b.owner == self {
			b.owner = handle{}
			b.proc.Kill()
		}
	}

	_ = unix.Close(c.fd)
	r.logger.Debug().Int("fd", c.fd).Str("remote", cl.request.Remote).Msg("connection closed")
}

// finishCGI responds to the client waiting for the script. The client must still be
// registered.
func (r *Reactor) finishCGI(owner *conn, b *bridge, exit error) {
	cl := owner.client
	cl.bridge = handle{}

	if b.complete {
		response := cl.server.router.OnCGI(cl.request, cl.response, b.output, exit)
		r.respond(owner, response, cl.request.KeepAlive)
		return
	}

	r.respond(owner, cl.server.router.OnError(cl.request, cl.response, status.ErrBadGateway), false)
}
