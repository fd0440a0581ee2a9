//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

func allSupervisorSignals() []os.Signal {
	return []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGTTIN,
		syscall.SIGTTOU,
	}
}

func quickExitSignal() os.Signal    { return syscall.SIGINT }
func gracefulExitSignal() os.Signal { return syscall.SIGTERM }

func isQuitSignal(s os.Signal) bool     { return s == syscall.SIGINT }
func isTermSignal(s os.Signal) bool     { return s == syscall.SIGTERM }
func isReloadSignal(s os.Signal) bool   { return s == syscall.SIGHUP }
func isIncreaseSignal(s os.Signal) bool { return s == syscall.SIGTTIN }
func isDecreaseSignal(s os.Signal) bool { return s == syscall.SIGTTOU }
