package transport

import (
	"golang.org/x/sys/unix"
)

func (r *Reactor) onCGIOutput(c *conn) (effect, []*conn) {
	b := c.bridge

	n, err := unix.Read(c.fd, r.buff)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return none, nil
	case err != nil:
		r.logger.Error().Err(err).Int("pid", b.proc.Pid()).Msg("cannot read script output")
		return remove, nil
	case n == 0:
		b.complete = true
		return remove, nil
	}

	b.output = append(b.output, r.buff[:n]...)

	return none, nil
}

func (r *Reactor) onCGIInput(c *conn) (effect, []*conn) {
	done, err := c.bridge.proc.WriteInput()
	if err != nil {
		// usually EPIPE, meaning the script exited or closed its input without reading it
		// all. That's up to the script, so the output is still awaited
		r.logger.Debug().Err(err).Int("pid", c.bridge.proc.Pid()).Msg("script input aborted")
		return remove, nil
	}

	if done {
		return remove, nil
	}

	return none, nil
}

func (r *Reactor) onCGIExit(c *conn) (effect, []*conn) {
	exited, err := c.bridge.proc.TryWait()
	if !exited && err == nil {
		return none, nil
	}

	return remove, nil
}

// releaseCGIOutput is called once the script's output is either read completely or
// abandoned. In the latter case the script is killed and the owner gets an internal error
// right away. Either way the script is reaped without blocking.
func (r *Reactor) releaseCGIOutput(c *conn) {
	b := c.bridge
	if input := r.resolve(b.input); input != nil {
		r.remove(input)
	}

	if !b.complete {
		b.proc.Kill()
		r.logger.Debug().Int("pid", b.proc.Pid()).Msg("script killed")
		if owner := r.resolve(b.owner); owner != nil {
			b.owner = handle{}
			r.finishCGI(owner, b, nil)
		}
	}

	r.reap(b)
}

func (r *Reactor) releaseCGIExit(c *conn) {
	_ = unix.Close(c.fd)

	b := c.bridge
	exited, exit := b.proc.TryWait()
	if !exited && exit == nil {
		// the reactor is being closed while the script is still running
		b.proc.Kill()
		exit = b.proc.Wait()
	}

	r.onExit(b, exit)
}

// reap collects the script's exit status. A script may close its output and keep running,
// so if it hasn't exited yet, its exit is awaited by the reactor through a pidfd.
func (r *Reactor) reap(b *bridge) {
	if r.closed {
		b.proc.Kill()
		r.onExit(b, b.proc.Wait())
		return
	}

	if exited, exit := b.proc.TryWait(); exited || exit != nil {
		r.onExit(b, exit)
		return
	}

	pidfd, err := b.proc.Pidfd()
	if err == nil {
		c := r.newConn(kCGIExit, pidfd, unix.EPOLLIN)
		c.bridge = b
		if err = r.register(c); err == nil {
			if owner := r.resolve(b.owner); owner != nil {
				owner.client.bridge = c.handle()
			}

			return
		}

		_ = unix.Close(pidfd)
	}

	r.logger.Debug().Err(err).Int("pid", b.proc.Pid()).Msg("polling the script for exit")
	r.reaping = append(r.reaping, b)
}

func (r *Reactor) pollReaping() {
	pending := r.reaping[:0]

	for _, b := range r.reaping {
		if exited, exit := b.proc.TryWait(); exited || exit != nil {
			r.onExit(b, exit)
			continue
		}

		pending = append(pending, b)
	}

	clear(r.reaping[len(pending):])
	r.reaping = pending
}

// onExit responds to the owner, if it still waits for the script.
func (r *Reactor) onExit(b *bridge, exit error) {
	r.logger.Debug().Int("pid", b.proc.Pid()).AnErr("exit", exit).Msg("script exited")

	if owner := r.resolve(b.owner); owner != nil {
		b.owner = handle{}
		r.finishCGI(owner, b, exit)
	}
}
