package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/bft-labs/gracehost/pkg/ipc"
)

// EnvWorkerID marks a process as a worker and carries its id.
const EnvWorkerID = "GRACEHOST_WORKER_ID"

// Upstream file descriptors in a worker.
const (
	upstreamReadFD  = 3
	upstreamWriteFD = 4
)

// ExitStatus describes how a worker exited.
type ExitStatus struct {
	Code   int
	Signal string
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("signal %s", s.Signal)
	}
	return fmt.Sprintf("code %d", s.Code)
}

// Process is a running worker.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	// Wait blocks until the process exits.
	Wait() (ExitStatus, error)
}

// Spawner starts worker processes. The returned Conn is the master end of
// the worker's upstream channel.
type Spawner interface {
	Spawn(ctx context.Context, id string) (Process, *ipc.Conn, error)
}

// ExecSpawner re-executes a binary with the worker marker set and the
// upstream channel on fds 3 and 4.
type ExecSpawner struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecSpawner returns a spawner for the running executable and its
// arguments.
func NewExecSpawner() (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecSpawner{
		Path:   path,
		Args:   os.Args[1:],
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(ctx context.Context, id string) (Process, *ipc.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	childR, parentW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}
	parentR, childW, err := os.Pipe()
	if err != nil {
		childR.Close()
		parentW.Close()
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(append([]string{}, s.Env...), EnvWorkerID+"="+id)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.ExtraFiles = []*os.File{childR, childW}

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{childR, childW, parentR, parentW} {
			f.Close()
		}
		return nil, nil, fmt.Errorf("start worker %s: %w", id, err)
	}
	childR.Close()
	childW.Close()

	return &execProcess{cmd: cmd}, ipc.NewConn(parentR, parentW, parentR, parentW), nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Wait() (ExitStatus, error) {
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		return ExitStatus{Code: -1}, err
	}
	status := ExitStatus{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return status, err
	}
	return status, nil
}

// Upstream opens the worker end of the channel inherited from the master.
func Upstream() (*ipc.Conn, error) {
	r := os.NewFile(upstreamReadFD, "upstream-in")
	w := os.NewFile(upstreamWriteFD, "upstream-out")
	if r == nil || w == nil {
		return nil, fmt.Errorf("upstream descriptors %d/%d not inherited", upstreamReadFD, upstreamWriteFD)
	}
	return ipc.NewConn(r, w, r, w), nil
}
