// Package cluster decides the process role and manages worker processes.
//
// A process is a Worker when it was started with the worker environment
// marker, a Master when the configured worker count is positive, and a
// Singleton otherwise. The Master forks workers through a Spawner and keeps
// a handle per live worker; there is no automatic respawn.
package cluster

import (
	"fmt"

	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/ipc"
)

// Role is the process role decided at the ProcessRole phase. It is one of
// Master, Worker or Singleton.
type Role interface {
	fmt.Stringer
	isRole()
}

// Master forks Workers and coordinates the mesh.
type Master struct {
	Workers int
}

// Worker is a forked child talking to the Master over Upstream.
type Worker struct {
	ID       string
	Upstream *ipc.Conn
}

// Singleton runs everything in one process.
type Singleton struct{}

func (Master) isRole()    {}
func (Worker) isRole()    {}
func (Singleton) isRole() {}

func (Master) String() string    { return "master" }
func (Worker) String() string    { return "worker" }
func (Singleton) String() string { return "singleton" }

// Config holds the cluster settings.
type Config struct {
	// Max is the upper bound on forked workers; 0 disables clustering.
	Max int `json:"max"`

	// MasterModules makes the Master run the Modules phase as well.
	MasterModules bool `json:"master_modules"`
}

// ConfigFrom reads the cluster section of a store.
func ConfigFrom(s *config.Store) Config {
	sec := s.Section("cluster")
	return Config{
		Max:           sec.Int("max"),
		MasterModules: sec.Bool("master_modules"),
	}
}

// WorkerCount returns min(max, cpus), never negative.
func WorkerCount(max, cpus int) int {
	n := max
	if cpus < n {
		n = cpus
	}
	if n < 0 {
		return 0
	}
	return n
}

// RunsModules reports whether a process with role r runs the Modules phase.
func RunsModules(r Role, cfg Config) bool {
	if _, ok := r.(Master); ok {
		return cfg.MasterModules
	}
	return true
}
