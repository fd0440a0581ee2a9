//go:build windows

package worker

import (
	"os"
	"syscall"
)

func quickExitSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// SIGBREAK substitutes for SIGTERM on Windows, per the supervisor's
// documented platform caveat; there is no SIGHUP/SIGTTIN/SIGTTOU there.
func gracefulExitSignals() []os.Signal {
	return []os.Signal{syscall.SIGTERM, syscall.Signal(21) /* SIGBREAK */}
}

func isQuickExitSignal(s os.Signal) bool {
	return s == os.Interrupt
}

func isGracefulExitSignal(s os.Signal) bool {
	return s == syscall.SIGTERM || s == syscall.Signal(21)
}
