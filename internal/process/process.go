package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/lokmanager/internal/logging"
)

// Spec describes a subprocess to launch.
type Spec struct {
	ID        string
	Args      []string
	Dir       string
	Env       []string      // appended to the parent environment
	StopGrace time.Duration // SIGKILL delay after Terminate, 0 = never escalate
	Logger    logging.Logger
	Output    CollectorOptions
}

// Process is a running subprocess in its own process group. Its combined
// stdout and stderr feed a Collector.
type Process struct {
	id        string
	cmd       *exec.Cmd
	logger    logging.Logger
	stopGrace time.Duration
	startedAt time.Time
	collector *Collector

	exited   chan struct{}
	exitErr  error
	exitCode int

	terminateOnce sync.Once
}

// Start launches the subprocess and its collector. It returns once the OS
// spawn call returns.
func Start(spec Spec) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if spec.Output.Sink == nil {
		return nil, fmt.Errorf("output sink is required")
	}
	logger := spec.Logger
	if logger == nil {
		logger = logging.GetLogger("process")
	}

	// One pipe for both streams keeps their relative order
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, err
	}
	// The child holds its own copy of the write end
	_ = w.Close()

	p := &Process{
		id:        spec.ID,
		cmd:       cmd,
		logger:    logger,
		stopGrace: spec.StopGrace,
		startedAt: time.Now(),
		exited:    make(chan struct{}),
		exitCode:  -1,
	}
	p.collector = NewCollector(r, p.exited, spec.Output)

	logger.Debug("Process started", "id", p.id, "pid", cmd.Process.Pid)

	go p.collector.Run()
	go p.wait()

	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.exitErr = err
	p.exitCode = exitCodeFromError(err)
	close(p.exited)

	p.logger.Debug("Process exited", "id", p.id, "exit_code", p.exitCode)
	p.collector.drain()
}

// exitCodeFromError extracts the exit code from a Wait error.
// Signal deaths are reported shell style as 128+signal.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// StartedAt returns when the process was spawned.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Finished is closed once the process has exited and its output is drained.
func (p *Process) Finished() <-chan struct{} {
	return p.collector.Done()
}

// ExitCode returns the exit code, or -1 while the process is running.
func (p *Process) ExitCode() int {
	select {
	case <-p.exited:
		return p.exitCode
	default:
		return -1
	}
}

// Collector returns the output collector of this process.
func (p *Process) Collector() *Collector {
	return p.collector
}

// Terminate sends SIGTERM to the process group and, when a stop grace is
// configured, SIGKILL once it expires. It does not wait for exit.
func (p *Process) Terminate() {
	p.terminateOnce.Do(func() {
		p.signalGroup(syscall.SIGTERM)
		if p.stopGrace <= 0 {
			return
		}
		go func() {
			timer := time.NewTimer(p.stopGrace)
			defer timer.Stop()
			select {
			case <-p.exited:
			case <-timer.C:
				p.logger.Warn("Process ignored SIGTERM, killing", "id", p.id, "grace", p.stopGrace)
				p.signalGroup(syscall.SIGKILL)
			}
		}()
	})
}

// Kill sends SIGKILL to the process group immediately.
func (p *Process) Kill() {
	p.signalGroup(syscall.SIGKILL)
}

func (p *Process) signalGroup(sig syscall.Signal) {
	select {
	case <-p.exited:
		return
	default:
	}

	pid := p.cmd.Process.Pid
	p.logger.Debug("Signalling process group", "id", p.id, "pid", pid, "signal", sig.String())
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("Failed to signal process group", "id", p.id, "signal", sig.String(), "error", err)
	}
}
