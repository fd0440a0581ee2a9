// Package zibai is the CLI entrypoint: it defines the cobra command tree
// described by spec.md §6 and dispatches to either a foreground worker or
// a supervised multi-process run. Grounded on cli.py's parse_args/Options
// for flag names and defaults, and on endless.go's Start for the
// parent/child process split, generalized to N workers.
package zibai

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"zibai/gateway"
	"zibai/internal/config"
)

// Main builds and executes the zibai root command against registry, the
// in-process table of apps, factories, and hooks the host registered
// before calling Main. It never returns; on completion it calls os.Exit
// with the process's exit code.
func Main(registry *gateway.Registry) {
	_ = godotenv.Load()

	opts := config.Default()

	var unixSocketPermsStr string
	var maxRequestPreProcessStr string
	var backlogStr string
	var gracefulExitTimeoutSeconds int

	cmd := &cobra.Command{
		Use:   "zibai <app>",
		Short: "zibai hosts a synchronous gateway application over HTTP/1.1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.App = args[0]

			if unixSocketPermsStr != "" {
				perms, err := strconv.ParseUint(unixSocketPermsStr, 8, 32)
				if err != nil {
					return fmt.Errorf("--unix-socket-perms must be octal: %w", err)
				}
				opts.UnixSocketPerms = uint32(perms)
			}
			if maxRequestPreProcessStr != "" {
				n, err := strconv.ParseInt(maxRequestPreProcessStr, 10, 64)
				if err != nil {
					return fmt.Errorf("--max-request-pre-process must be an integer: %w", err)
				}
				opts.MaxRequestPreProcess = n
				opts.HasMaxRequestPreProcess = true
			}
			if backlogStr != "" {
				n, err := strconv.Atoi(backlogStr)
				if err != nil {
					return fmt.Errorf("--backlog must be an integer: %w", err)
				}
				opts.Backlog = n
				opts.HasBacklog = true
			}
			opts.GracefulExitTimeout = time.Duration(gracefulExitTimeoutSeconds) * time.Second

			if opts.URLPrefix == "" {
				opts.URLPrefix = os.Getenv("SCRIPT_NAME")
			}

			opts.NormalizeForWatchfiles()
			if err := opts.Validate(); err != nil {
				return err
			}

			return run(opts, registry)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.Listen, "listen", "l", opts.Listen, "HOST:PORT or unix:PATH, repeatable")
	flags.IntVarP(&opts.Subprocess, "subprocess", "p", opts.Subprocess, "worker process count (0 = foreground)")
	flags.BoolVar(&opts.NoGevent, "no-gevent", opts.NoGevent, "force threaded scheduling mode")
	flags.IntVarP(&opts.MaxWorkers, "max-workers", "w", opts.MaxWorkers, "max concurrent handlers per worker")
	flags.StringVar(&opts.Watchfiles, "watchfiles", opts.Watchfiles, "semicolon-separated glob list to watch for reload")
	flags.StringVar(&backlogStr, "backlog", "", "listen() backlog (OS default if unset)")
	flags.BoolVar(&opts.DualstackIPv6, "dualstack-ipv6", opts.DualstackIPv6, "bind v4+v6 on one socket")
	flags.StringVar(&unixSocketPermsStr, "unix-socket-perms", "600", "chmod for unix sockets (octal)")
	flags.IntVar(&opts.H11MaxIncompleteEventSize, "h11-max-incomplete-event-size", 0, "framing event cap (0 = unbounded)")
	flags.StringVar(&maxRequestPreProcessStr, "max-request-pre-process", "", "per-worker request budget (unset = unlimited)")
	flags.IntVar(&gracefulExitTimeoutSeconds, "graceful-exit-timeout", 10, "drain deadline in seconds")
	flags.StringVar(&opts.URLScheme, "url-scheme", "http", "wsgi.url_scheme")
	flags.StringVar(&opts.URLPrefix, "url-prefix", "", "SCRIPT_NAME (defaults to $SCRIPT_NAME)")
	flags.StringVar(&opts.BeforeServe, "before-serve", "", "module:attr lifecycle hook")
	flags.StringVar(&opts.BeforeGracefulExit, "before-graceful-exit", "", "module:attr lifecycle hook")
	flags.StringVar(&opts.BeforeDied, "before-died", "", "module:attr lifecycle hook")
	flags.BoolVar(&opts.NoAccessLog, "no-access-log", opts.NoAccessLog, "suppress access records")
	flags.BoolVar(&opts.Call, "call", opts.Call, "invoke the resolved attribute with no arguments to obtain the application")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func splitWatchGlobs(spec string) []string {
	if spec == "" {
		return nil
	}
	return strings.Split(spec, ";")
}
