// Package host runs an application through its lifecycle.
//
// A Host takes a process from cold start to a ready, optionally clustered
// state and back down again. Startup is a fixed pipeline of phases:
//
//	Config -> Log -> Profiler -> ProcessRole -> Mesh -> Modules -> Ready
//
// Config loads the configuration store. Log replaces the bootstrap logger
// with the configured one. ProcessRole decides whether this process is a
// Master, a Worker or a Singleton and, for a Master, forks the workers.
// Mesh starts the cross-process messaging layer: the Master or Singleton
// coordinates it, Workers join through their upstream channel. Modules
// resolves and sets up every module registered with Use, one at a time.
// A Master only runs Modules when cluster.master_modules is set.
//
// # Basic Usage
//
//	h := host.New(host.WithRoot("/srv/app"), host.WithConfig("configs", "app.toml"))
//	h.Use("api", "modules/api")
//	h.RegisterShutdownTask("flush", flush)
//
//	if err := h.Start(ctx, func() { fmt.Println("ready") }); err != nil {
//	    return err // already exited with status 1 unless WithExit was used
//	}
//
// Start exits the process when a phase fails and installs handlers for
// SIGINT, SIGQUIT and SIGTERM. Load runs the same pipeline without either,
// returning the error instead; Unload tears a loaded host down so it can be
// loaded again.
//
// # Shutdown
//
// Stop, or a termination signal, notifies OnShutdown listeners, relays the
// signal to workers, drains shutdown tasks in registration order and exits
// with status 0, or 1 when Stop was given an error. Each task runs once;
// failures and panics are logged and do not stop the queue.
package host
