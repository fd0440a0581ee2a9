package zibai

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"zibai/gateway"
	"zibai/internal/config"
	"zibai/internal/handler"
	"zibai/internal/hooks"
	"zibai/internal/listen"
	"zibai/internal/reloader"
	"zibai/internal/supervisor"
	"zibai/internal/worker"
	"zibai/internal/workerpool"
	"zibai/internal/zlog"
)

// run dispatches to one of three roles: an inherited-fd worker process
// (ZIBAI_LISTEN_FDS set by a supervisor parent), a supervisor owning
// opts.Subprocess workers, or a single foreground worker when
// opts.Subprocess is 0.
func run(opts config.Options, registry *gateway.Registry) error {
	sinks := zlog.New(zlog.Options{Debug: false, NoAccessLog: opts.NoAccessLog})

	if fdSpec := os.Getenv(supervisor.ListenFDEnv); fdSpec != "" {
		return runWorkerFromInheritedFDs(opts, registry, sinks, fdSpec)
	}

	backlog := 0
	if opts.HasBacklog {
		backlog = opts.Backlog
	}

	endpoints := make([]listen.Endpoint, 0, len(opts.Listen))
	for _, raw := range opts.Listen {
		ep, err := listen.Parse(raw, opts.DualstackIPv6, os.FileMode(opts.UnixSocketPerms), backlog)
		if err != nil {
			return err
		}
		endpoints = append(endpoints, ep)
	}

	listeners := make([]net.Listener, 0, len(endpoints))
	for _, ep := range endpoints {
		ln, err := listen.Bind(ep)
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return fmt.Errorf("bind %+v: %w", ep, err)
		}
		listeners = append(listeners, ln)
	}

	if opts.Subprocess <= 0 {
		return runForegroundWorker(opts, registry, sinks, listeners)
	}

	return runSupervisor(opts, registry, sinks, listeners, endpoints)
}

func runForegroundWorker(opts config.Options, registry *gateway.Registry, sinks *zlog.Sinks, listeners []net.Listener) error {
	app, err := registry.ResolveApp(opts.App, opts.Call)
	if err != nil {
		return err
	}
	hks, err := hooks.Resolve(registry, opts.BeforeServe, opts.BeforeGracefulExit, opts.BeforeDied)
	if err != nil {
		return err
	}

	w := buildWorker(opts, app, sinks, hks, listeners)
	os.Exit(w.Run())
	return nil
}

func runWorkerFromInheritedFDs(opts config.Options, registry *gateway.Registry, sinks *zlog.Sinks, fdSpec string) error {
	var descriptors []supervisor.ListenFD
	if err := json.Unmarshal([]byte(fdSpec), &descriptors); err != nil {
		return fmt.Errorf("parse %s: %w", supervisor.ListenFDEnv, err)
	}

	app, err := registry.ResolveApp(opts.App, opts.Call)
	if err != nil {
		sinks.Error.Error("worker failed to resolve app: " + err.Error())
		os.Exit(3)
		return nil
	}
	hks, err := hooks.Resolve(registry, opts.BeforeServe, opts.BeforeGracefulExit, opts.BeforeDied)
	if err != nil {
		sinks.Error.Error("worker failed to resolve hooks: " + err.Error())
		os.Exit(3)
		return nil
	}

	listeners := make([]net.Listener, 0, len(descriptors))
	for i, d := range descriptors {
		ln, err := listen.FromFD(uintptr(3+i), d.Addr)
		if err != nil {
			sinks.Error.Error("worker failed to inherit listener: " + err.Error())
			os.Exit(3)
			return nil
		}
		listeners = append(listeners, ln)
	}

	w := buildWorker(opts, app, sinks, hks, listeners)
	os.Exit(w.Run())
	return nil
}

func buildWorker(opts config.Options, app gateway.App, sinks *zlog.Sinks, hks worker.Hooks, listeners []net.Listener) *worker.Worker {
	var scheduler workerpool.Scheduler
	if opts.NoGevent {
		scheduler = &workerpool.Threaded{Concurrency: opts.MaxWorkers}
	} else {
		scheduler = &workerpool.Cooperative{Concurrency: opts.MaxWorkers}
	}

	// w is referenced by the LimitRequestCount closure below but must be
	// built after the handler, which embeds app; the worker is assigned to
	// it before Run ever invokes the handler, so the capture is safe.
	var w *worker.Worker
	if opts.HasMaxRequestPreProcess {
		app = gateway.LimitRequestCount(app, opts.MaxRequestPreProcess, func() {
			w.StartDraining()
		})
	}

	h := &handler.Handler{
		Config: handler.Config{
			ScriptName:   opts.URLPrefix,
			URLScheme:    opts.URLScheme,
			Multithread:  true,
			Multiprocess: opts.Subprocess > 0,
		},
		App:                    app,
		Sinks:                  sinks,
		MaxIncompleteEventSize: opts.H11MaxIncompleteEventSize,
	}

	w = worker.New(worker.Config{
		Listeners:           listeners,
		Scheduler:           scheduler,
		Handler:             h,
		Sinks:               sinks,
		Hooks:               hks,
		GracefulExitTimeout: opts.GracefulExitTimeout,
	})
	h.ShouldCloseAfterCurrent = w.ShouldCloseAfterCurrent
	return w
}

func runSupervisor(opts config.Options, registry *gateway.Registry, sinks *zlog.Sinks, listeners []net.Listener, endpoints []listen.Endpoint) error {
	descriptors := make([]supervisor.ListenFD, 0, len(listeners))
	for _, ep := range endpoints {
		network := "tcp"
		addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
		if ep.Kind == listen.UNIX {
			network = "unix"
			addr = ep.Path
		}
		descriptors = append(descriptors, supervisor.ListenFD{Addr: addr, Network: network})
	}

	var reloadEdge <-chan struct{}
	var rl *reloader.Reloader
	if opts.Watchfiles != "" {
		var err error
		rl, err = reloader.New(splitWatchGlobs(opts.Watchfiles), 0)
		if err != nil {
			return fmt.Errorf("starting file watcher: %w", err)
		}
		rl.Start()
		reloadEdge = rl.Edge()
		defer rl.Close()
	}

	sup := supervisor.New(supervisor.Config{
		Listeners:           listeners,
		Addrs:               descriptors,
		DesiredCount:        opts.Subprocess,
		GracefulExitTimeout: opts.GracefulExitTimeout,
		Sinks:               sinks,
		ReloadEdge:          reloadEdge,
	})

	code := sup.Run()
	for _, ln := range listeners {
		ln.Close()
	}
	os.Exit(code)
	return nil
}
