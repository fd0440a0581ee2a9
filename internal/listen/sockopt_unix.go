//go:build !windows

package listen

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReusePortListenConfig returns a net.ListenConfig that sets SO_REUSEPORT on
// the listening socket before bind, matching create_bind_socket's
// `sock.setsockopt(socket.SOL_SOCKET, socket.SO_REUSEPORT, 1)` on
// non-Windows platforms: it lets a rolling-restart child bind the same
// address while the old generation is still draining.
func ReusePortListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// DualstackIPv6Supported probes whether the platform supports a single
// socket bound to both IPv4 and IPv6, mirroring
// socket.has_dualstack_ipv6().
func DualstackIPv6Supported() bool {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		return false
	}
	return true
}

// listenBacklog re-issues listen(2) on an already-listening socket purely
// to change its backlog, matching create_bind_socket's
// `bind_socket.listen(backlog)`.
func listenBacklog(fd uintptr, backlog int) error {
	return unix.Listen(int(fd), backlog)
}
