// Package config defines zibai's Options, the CLI-derived configuration
// struct threaded through the worker and supervisor packages, grounded on
// cli.py's dataclass Options (including its __post_init__ validation) and
// adapted for Go's static-binary + in-process registry model instead of
// Python's dynamic module:attribute imports.
package config

import (
	"fmt"
	"time"
)

// Options mirrors cli.py's Options dataclass. It is a plain value type;
// worker processes do not receive it from the supervisor but rebuild it by
// parsing the same command line the supervisor was started with.
type Options struct {
	App  string
	Call bool

	Listen     []string
	Subprocess int
	NoGevent   bool
	MaxWorkers int
	Watchfiles string

	Backlog                   int
	HasBacklog                bool
	DualstackIPv6             bool
	UnixSocketPerms           uint32
	H11MaxIncompleteEventSize int
	MaxRequestPreProcess      int64
	HasMaxRequestPreProcess   bool
	GracefulExitTimeout       time.Duration

	URLScheme string
	URLPrefix string

	BeforeServe        string
	BeforeGracefulExit string
	BeforeDied         string

	NoAccessLog bool
}

// Default returns Options populated with the CLI defaults from spec.md §6.
func Default() Options {
	return Options{
		Listen:              []string{"127.0.0.1:8000"},
		Subprocess:          0,
		MaxWorkers:          10,
		UnixSocketPerms:     0o600,
		GracefulExitTimeout: 10 * time.Second,
		URLScheme:           "http",
	}
}

// Validate mirrors Options.__post_init__: watchfiles requires at least one
// subprocess, since a foreground worker has no supervisor to restart it.
func (o *Options) Validate() error {
	if o.Watchfiles != "" && o.Subprocess <= 0 {
		return fmt.Errorf("cannot watch files without subprocesses")
	}
	if len(o.Listen) == 0 {
		return fmt.Errorf("at least one --listen address is required")
	}
	if o.MaxWorkers < 1 {
		return fmt.Errorf("--max-workers must be >= 1")
	}
	if o.Subprocess < 0 {
		return fmt.Errorf("--subprocess must be >= 0")
	}
	return nil
}

// NormalizeForWatchfiles mirrors parse_args's behavior of bumping Subprocess
// to at least 1 when Watchfiles is set, so a reload edge always has a
// supervisor to act on it.
func (o *Options) NormalizeForWatchfiles() {
	if o.Watchfiles != "" && o.Subprocess < 1 {
		o.Subprocess = 1
	}
}
