// Package listen creates and tunes the bound sockets zibai serves on,
// grounded on cli.py's create_bind_socket: TCP or UNIX domain, optional
// dualstack IPv6, SO_REUSEPORT (SO_REUSEADDR on platforms without it), and
// UNIX socket permission bits.
package listen

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Endpoint is the tagged variant from spec.md §3: either a TCP endpoint or a
// UNIX domain socket path.
type Endpoint struct {
	Kind      Kind
	Host      string
	Port      int
	Path      string
	Mode      os.FileMode
	Dualstack bool

	// Backlog is the `--backlog` pending-connection queue length. Zero
	// means "leave the platform default in place" (Go's net package binds
	// with its own listenerBacklog()); a nonzero value is applied with a
	// second, explicit listen(2) call after bind, since POSIX and Winsock
	// both permit re-issuing listen on an already-listening socket solely
	// to change its backlog.
	Backlog int
}

// Kind discriminates Endpoint's variant.
type Kind int

const (
	TCP Kind = iota
	UNIX
)

// Parse turns a `--listen` value (HOST:PORT or unix:PATH) into an Endpoint.
// backlog is the `--backlog` value, or 0 if the flag was not given.
func Parse(value string, dualstack bool, unixPerms os.FileMode, backlog int) (Endpoint, error) {
	if strings.HasPrefix(value, "unix:") {
		return Endpoint{Kind: UNIX, Path: value[len("unix:"):], Mode: unixPerms, Backlog: backlog}, nil
	}

	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return Endpoint{}, fmt.Errorf("bind must be of the form HOST:PORT: %q", value)
	}
	host, portStr := value[:idx], value[idx+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("bind port must be an integer: %q", portStr)
	}
	if port < 0 || port >= 65536 {
		return Endpoint{}, fmt.Errorf("bind port must be between 0 and 65536: %d", port)
	}
	if host == "" {
		if dualstack {
			host = "::"
		} else {
			host = "0.0.0.0"
		}
	}
	return Endpoint{Kind: TCP, Host: host, Port: port, Dualstack: dualstack, Backlog: backlog}, nil
}

// Bind creates, tunes, binds, and listens on the socket for ep.
func Bind(ep Endpoint) (net.Listener, error) {
	switch ep.Kind {
	case UNIX:
		return bindUnix(ep)
	default:
		return bindTCP(ep)
	}
}

func bindUnix(ep Endpoint) (net.Listener, error) {
	if _, err := os.Stat(ep.Path); err == nil {
		if err := os.Remove(ep.Path); err != nil {
			return nil, fmt.Errorf("removing stale unix socket %s: %w", ep.Path, err)
		}
	}
	ln, err := net.Listen("unix", ep.Path)
	if err != nil {
		return nil, err
	}
	mode := ep.Mode
	if mode == 0 {
		mode = 0o600
	}
	if err := os.Chmod(ep.Path, mode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod unix socket %s: %w", ep.Path, err)
	}
	if ep.Backlog > 0 {
		if err := applyBacklog(ln, ep.Backlog); err != nil {
			ln.Close()
			return nil, fmt.Errorf("setting backlog on unix socket %s: %w", ep.Path, err)
		}
	}
	return ln, nil
}

func bindTCP(ep Endpoint) (net.Listener, error) {
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	if ep.Dualstack && !DualstackIPv6Supported() {
		return nil, fmt.Errorf("dualstack ipv6 is not supported on this platform")
	}
	lc := ReusePortListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	if ep.Backlog > 0 {
		if err := applyBacklog(ln, ep.Backlog); err != nil {
			ln.Close()
			return nil, fmt.Errorf("setting backlog on %s: %w", addr, err)
		}
	}
	return ln, nil
}

// syscallConner is satisfied by *net.TCPListener and *net.UnixListener,
// the two concrete types Bind returns.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// applyBacklog re-issues listen(2)/WSAListen solely to change the pending-
// connection queue length, the same technique ReusePortListenConfig uses
// to set socket options Go's net package does not expose: POSIX and
// Winsock both define a second listen call on an already-listening socket
// as valid, changing only the backlog.
func applyBacklog(ln net.Listener, backlog int) error {
	sc, ok := ln.(syscallConner)
	if !ok {
		return fmt.Errorf("listener type %T does not support raw socket access", ln)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) {
		opErr = listenBacklog(fd, backlog)
	}); err != nil {
		return err
	}
	return opErr
}

// FromFD rebuilds a net.Listener from an inherited file descriptor, the
// worker-side counterpart of the supervisor forwarding a bound socket
// across fork+exec. fd follows the stdin/stdout/stderr-then-extra-files
// convention endless.go's new_client uses (first extra file lands at fd 3).
func FromFD(fd uintptr, name string) (net.Listener, error) {
	f := os.NewFile(fd, name)
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	f.Close()
	return ln, nil
}
