package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// bind creates a non-blocking listening socket. Port 0 binds to an ephemeral port, the actual
// address is returned.
func bind(host string, port uint16, backlog int) (fd int, addr *net.TCPAddr, err error) {
	tcpaddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return -1, nil, err
	}

	domain, sa := unix.AF_INET, unix.Sockaddr(nil)
	if ip4 := tcpaddr.IP.To4(); ip4 != nil || tcpaddr.IP == nil {
		inet4 := &unix.SockaddrInet4{Port: tcpaddr.Port}
		copy(inet4.Addr[:], ip4)
		sa = inet4
	} else {
		inet6 := &unix.SockaddrInet6{Port: tcpaddr.Port}
		copy(inet6.Addr[:], tcpaddr.IP.To16())
		domain, sa = unix.AF_INET6, inet6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, nil, os.NewSyscallError("setsockopt", err)
	}

	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("bind %s: %w", tcpaddr, err)
	}

	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, nil, os.NewSyscallError("listen", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, os.NewSyscallError("getsockname", err)
	}

	ip, boundPort := sockaddrIP(bound)

	return fd, &net.TCPAddr{IP: ip, Port: boundPort}, nil
}

// accept takes a single pending connection. ok is false if there are none left.
func accept(fd int) (connfd int, remote string, ok bool, err error) {
	for {
		connfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			ip, _ := sockaddrIP(sa)
			return connfd, ip.String(), true, nil
		case unix.EINTR:
		case unix.EAGAIN, unix.ECONNABORTED:
			return -1, "", false, nil
		default:
			return -1, "", false, os.NewSyscallError("accept4", err)
		}
	}
}

func sockaddrIP(sa unix.Sockaddr) (net.IP, int) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(addr.Addr[:]), addr.Port
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]), addr.Port
	default:
		return nil, 0
	}
}
