package host

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/bft-labs/gracehost/pkg/log"
)

// terminationSignals trigger a graceful stop.
var terminationSignals = []os.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM}

// handleSignals stops the host on the first termination signal. The
// received signal is relayed to workers.
func (h *Host) handleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, terminationSignals...)
	done := make(chan struct{})

	h.mu.Lock()
	h.stopSignals = func() {
		signal.Stop(ch)
		close(done)
	}
	h.mu.Unlock()

	go func() {
		select {
		case sig := <-ch:
			h.logger.Info("signal received", log.String("signal", sig.String()))
			h.terminate(sig, nil)
		case <-done:
		}
	}()
}
