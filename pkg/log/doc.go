// Package log provides the structured logging abstraction used by every
// gracehost component.
//
// Components depend on the Logger interface only. The zerolog adapter is
// the production implementation; NoopLogger discards everything and is the
// default when a host is embedded without a logger.
//
// # Usage
//
//	logger := log.NewZerologAdapter(log.Options{Level: "info", Console: true})
//	logger.Info("host ready", log.String("role", "master"))
//
// # Swapping the sink
//
// The host builds its final logger only once configuration has been read.
// Components constructed earlier hold a *Dynamic, whose target is replaced
// atomically:
//
//	dyn := log.NewDynamic(log.NewNoopLogger())
//	dyn.Set(configured)
//
// # Prefixes
//
// With returns a Logger that adds fixed fields to every entry:
//
//	workerLog := log.With(logger, log.String("role", "WORKER:4242"))
package log
