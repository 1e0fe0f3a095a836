package transport

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

const (
	readable = unix.EPOLLIN | unix.EPOLLRDHUP
	writable = unix.EPOLLOUT
)

// poller is a level-triggered epoll instance with an eventfd attached, which is used to
// interrupt waiting from other goroutines.
type poller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
}

func newPoller(maxEvents int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	p := &poller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}

	if err = p.add(wakefd, 0, unix.EPOLLIN); err != nil {
		p.close()
		return nil, err
	}

	return p, nil
}

// add registers the descriptor. The tag is delivered along with every event, so events
// of a closed descriptor can be told apart from events of a newer one reusing it.
func (p *poller) add(fd int, tag uint32, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd), Pad: int32(tag)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev))
}

func (p *poller) modify(fd int, tag uint32, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd), Pad: int32(tag)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev))
}

func (p *poller) remove(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks until any of the descriptors is ready or the timeout expires. Interruptions
// by signals are reported as no events.
func (p *poller) wait(timeoutMs int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	switch err {
	case nil:
		return p.events[:n], nil
	case unix.EINTR:
		return nil, nil
	default:
		return nil, os.NewSyscallError("epoll_wait", err)
	}
}

// wake interrupts the wait. Safe to call from any goroutine.
func (p *poller) wake() {
	var buff [8]byte
	binary.NativeEndian.PutUint64(buff[:], 1)
	_, _ = unix.Write(p.wakefd, buff[:])
}

// drainWake resets the eventfd counter.
func (p *poller) drainWake() {
	var buff [8]byte
	_, _ = unix.Read(p.wakefd, buff[:])
}

func (p *poller) close() {
	_ = unix.Close(p.wakefd)
	_ = unix.Close(p.epfd)
}
