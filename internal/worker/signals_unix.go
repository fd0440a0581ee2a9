//go:build !windows

package worker

import (
	"os"
	"syscall"
)

func quickExitSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT}
}

func gracefulExitSignals() []os.Signal {
	return []os.Signal{syscall.SIGTERM}
}

func isQuickExitSignal(s os.Signal) bool {
	return s == syscall.SIGINT
}

func isGracefulExitSignal(s os.Signal) bool {
	return s == syscall.SIGTERM
}
