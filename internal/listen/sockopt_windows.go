//go:build windows

package listen

import (
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

// ReusePortListenConfig sets SO_REUSEADDR instead of SO_REUSEPORT on
// Windows, matching create_bind_socket's platform branch ("In windows,
// SO_REUSEPORT is not available").
func ReusePortListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// DualstackIPv6Supported always reports true on Windows; modern Windows
// supports dualstack sockets by default once IPV6_V6ONLY is cleared.
func DualstackIPv6Supported() bool {
	return true
}

// listenBacklog re-issues listen on an already-listening socket purely to
// change its backlog, the Winsock equivalent of a second POSIX listen(2)
// call.
func listenBacklog(fd uintptr, backlog int) error {
	return windows.Listen(windows.Handle(fd), int32(backlog))
}
