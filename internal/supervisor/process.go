package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Process is a spawned device UI process.
type Process interface {
	Pid() int
	// Exited reports whether the process has exited and its exit code.
	Exited() (code int, exited bool)
	// KillTree kills all descendants, then the process itself, waiting up
	// to timeout for each step.
	KillTree(timeout time.Duration) error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(argv []string) (Process, error)
}

// ExecSpawner starts processes with os/exec in their own process group.
type ExecSpawner struct {
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Spawn implements Spawner.
func (s ExecSpawner) Spawn(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = s.Env
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu   sync.Mutex
	code int
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.mu.Lock()
	p.code = code
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() (int, bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, true
	default:
		return 0, false
	}
}

func (p *execProcess) KillTree(timeout time.Duration) error {
	if _, exited := p.Exited(); exited {
		return nil
	}
	pid := p.Pid()
	var errs []error

	if parent, err := process.NewProcess(int32(pid)); err == nil {
		children, err := descendants(parent)
		if err != nil {
			errs = append(errs, fmt.Errorf("list children of %d: %w", pid, err))
		}
		for _, child := range children {
			if err := child.Kill(); err != nil && !gone(child) {
				errs = append(errs, fmt.Errorf("kill child %d: %w", child.Pid, err))
			}
		}
		if alive := waitGone(children, timeout); len(alive) > 0 {
			errs = append(errs, fmt.Errorf("children still running after %s: %v", timeout, alive))
		}
	}

	if err := killProcessGroup(pid); err != nil {
		errs = append(errs, fmt.Errorf("kill process group %d: %w", pid, err))
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
	}

	select {
	case <-p.done:
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("process %d still running after %s", pid, timeout))
	}
	return errors.Join(errs...)
}

// descendants lists every process below p, depth first.
func descendants(p *process.Process) ([]*process.Process, error) {
	children, err := p.Children()
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*process.Process, 0, len(children))
	for _, c := range children {
		out = append(out, c)
		grand, err := descendants(c)
		if err != nil {
			continue
		}
		out = append(out, grand...)
	}
	return out, nil
}

// gone treats zombies as terminated: they only wait to be reaped.
func gone(p *process.Process) bool {
	running, err := p.IsRunning()
	if err != nil || !running {
		return true
	}
	status, err := p.Status()
	return err == nil && slices.Contains(status, process.Zombie)
}

func waitGone(procs []*process.Process, timeout time.Duration) []int32 {
	deadline := time.Now().Add(timeout)
	for {
		var alive []int32
		for _, p := range procs {
			if !gone(p) {
				alive = append(alive, p.Pid)
			}
		}
		if len(alive) == 0 || time.Now().After(deadline) {
			return alive
		}
		time.Sleep(50 * time.Millisecond)
	}
}
