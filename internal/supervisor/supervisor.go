// Package supervisor keeps one device UI process alive: it spawns the
// process, confirms it reached the hub, watches it with a heartbeat and
// restarts it when it exits.
//
// Methods that change state must run on the event loop. Status and Ready
// may be called from any goroutine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/deviceui/internal/eventloop"
	"github.com/mattjoyce/deviceui/internal/hub"
	"github.com/mattjoyce/deviceui/internal/metrics"
)

// State is the lifecycle state of the supervised process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateHandshakePending
	StateRunning
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateHandshakePending:
		return "handshake_pending"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrAlreadyStarted is returned by Start when a process is already tracked.
var ErrAlreadyStarted = errors.New("device UI process already started")

// ErrSuperseded is delivered to a Start caller whose process was stopped
// before its handshake finished.
var ErrSuperseded = errors.New("device UI process was stopped before the handshake completed")

// SpawnError is returned when the process could not be launched.
type SpawnError struct {
	Argv []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn device UI process %q: %v", e.Argv, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Options configures a Supervisor.
type Options struct {
	// Name is the hub endpoint the process registers under.
	Name    string
	Command []string
	Mode    string
	HubURL  string
	Debug   bool

	HeartbeatInterval time.Duration
	KillTimeout       time.Duration

	HandshakeAttempts    int
	HandshakeInterval    time.Duration
	HandshakePingTimeout time.Duration
}

// Hooks are optional callbacks.
type Hooks struct {
	// OnReady runs off the loop after a handshake succeeded and before the
	// heartbeat starts.
	OnReady func(ctx context.Context)
	// OnStateChange runs on the loop after every state transition. It must
	// not block.
	OnStateChange func(Status)
}

// AllocationFunc returns the JSON window allocation for a new process.
type AllocationFunc func(ctx context.Context) (string, error)

// Status is a snapshot of the supervisor.
type Status struct {
	State     State     `json:"state"`
	Pid       int       `json:"pid,omitempty"`
	AliveAt   time.Time `json:"alive_at,omitempty"`
	Enabled   bool      `json:"enabled"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
}

// Supervisor owns the device UI process.
type Supervisor struct {
	opts       Options
	loop       *eventloop.Loop
	caller     hub.Caller
	spawner    Spawner
	allocation AllocationFunc
	hooks      Hooks
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// loop-confined
	proc       Process
	heartbeat  *eventloop.Timer
	generation uint64

	mu     sync.Mutex
	status Status
}

// New creates a stopped supervisor.
func New(opts Options, loop *eventloop.Loop, caller hub.Caller, spawner Spawner, allocation AllocationFunc, hooks Hooks, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Second
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = 5 * time.Second
	}
	if opts.HandshakeAttempts <= 0 {
		opts.HandshakeAttempts = 20
	}
	if opts.HandshakePingTimeout <= 0 {
		opts.HandshakePingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:       opts,
		loop:       loop,
		caller:     caller,
		spawner:    spawner,
		allocation: allocation,
		hooks:      hooks,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Status returns a snapshot. Safe from any goroutine.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ready reports whether the process is confirmed alive. Safe from any goroutine.
func (s *Supervisor) Ready() bool {
	st := s.Status()
	return !st.AliveAt.IsZero() && st.Pid != 0
}

// Name returns the hub endpoint name of the process.
func (s *Supervisor) Name() string {
	return s.opts.Name
}

// SetEnabled records whether the process should be kept alive. Turning it
// off takes effect at the next heartbeat. Loop only.
func (s *Supervisor) SetEnabled(enabled bool) {
	s.update(func(st *Status) { st.Enabled = enabled })
}

// HasProcess reports whether a process is tracked. Loop only.
func (s *Supervisor) HasProcess() bool {
	return s.proc != nil
}

// Start spawns the process and begins the handshake in the background.
// Spawn failures are returned directly. The channel delivers the handshake
// outcome once: nil when running, or a *HandshakeTimeoutError. Loop only.
func (s *Supervisor) Start() (<-chan error, error) {
	if s.proc != nil {
		return nil, ErrAlreadyStarted
	}
	s.update(func(st *Status) {
		st.Enabled = true
		st.State = StateStarting
		st.LastError = ""
	})

	alloc, err := s.allocation(s.ctx)
	if err != nil {
		return nil, s.failSpawn(nil, fmt.Errorf("build allocation: %w", err))
	}
	argv := s.argv(alloc)

	proc, err := s.spawner.Spawn(argv)
	if err != nil {
		return nil, s.failSpawn(argv, err)
	}
	metrics.ProcessSpawns.WithLabelValues("success").Inc()

	s.proc = proc
	s.generation++
	gen := s.generation
	s.logger.Info("spawned device UI process", "pid", proc.Pid(), "name", s.opts.Name)
	s.update(func(st *Status) {
		st.Pid = proc.Pid()
		st.State = StateHandshakePending
	})

	result := make(chan error, 1)
	go s.handshake(gen, result)
	return result, nil
}

func (s *Supervisor) failSpawn(argv []string, err error) error {
	metrics.ProcessSpawns.WithLabelValues("failure").Inc()
	spawnErr := &SpawnError{Argv: argv, Err: err}
	s.logger.Error("failed to spawn device UI process", "error", err)
	s.update(func(st *Status) {
		st.State = StateStopped
		st.LastError = spawnErr.Error()
	})
	return spawnErr
}

// Stop stops the heartbeat and kills the process tree if the process is
// still running. Termination errors are logged. Idempotent. Loop only.
func (s *Supervisor) Stop() {
	if s.heartbeat != nil {
		s.logger.Info("stopping heartbeat")
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	if s.proc != nil {
		pid := s.proc.Pid()
		if _, exited := s.proc.Exited(); !exited {
			s.logger.Info("terminating device UI process", "pid", pid)
			if err := s.proc.KillTree(s.opts.KillTimeout); err != nil {
				metrics.TerminationErrors.Inc()
				s.logger.Warn("error terminating device UI process", "pid", pid, "error", err)
			} else {
				s.logger.Info("closed device UI process", "pid", pid)
			}
		} else {
			s.logger.Info("no active device UI process", "pid", pid)
		}
	}
	s.proc = nil
	s.generation++
	metrics.SetRunning(false)
	s.update(func(st *Status) {
		st.State = StateStopped
		st.Pid = 0
		st.AliveAt = time.Time{}
	})
}

// Close cancels outstanding handshakes. The process is left alone; call
// Stop on the loop first.
func (s *Supervisor) Close() {
	s.cancel()
}

func (s *Supervisor) argv(alloc string) []string {
	argv := append([]string(nil), s.opts.Command...)
	argv = append(argv, "-n", s.opts.Name, "-a", alloc)
	if s.opts.Debug {
		argv = append(argv, "-d")
	}
	return append(argv, s.opts.Mode, s.opts.HubURL)
}

func (s *Supervisor) handshake(gen uint64, result chan<- error) {
	hs := &Handshake{
		Ping: func(ctx context.Context, timeout time.Duration) error {
			_, err := s.caller.Call(ctx, s.opts.Name, hub.CmdPing, timeout, nil)
			return err
		},
		MaxAttempts: s.opts.HandshakeAttempts,
		Interval:    s.opts.HandshakeInterval,
		PingTimeout: s.opts.HandshakePingTimeout,
		Logger:      s.logger,
	}

	aliveAt, err := hs.WaitForReady(s.ctx)
	if err != nil {
		s.logger.Error("device UI process did not connect to hub", "error", err)
		_ = s.loop.Call(context.Background(), func() {
			if s.generation != gen {
				return
			}
			s.Stop()
			s.update(func(st *Status) { st.LastError = err.Error() })
		})
		result <- err
		return
	}

	stale := false
	if err := s.loop.Call(s.ctx, func() {
		if s.generation != gen || s.proc == nil {
			stale = true
			return
		}
		metrics.SetRunning(true)
		s.update(func(st *Status) {
			st.AliveAt = aliveAt
			st.State = StateRunning
		})
	}); err != nil {
		result <- err
		return
	}
	if stale {
		result <- ErrSuperseded
		return
	}

	if s.hooks.OnReady != nil {
		s.hooks.OnReady(s.ctx)
	}

	s.loop.Post(func() {
		if s.generation != gen || s.proc == nil {
			return
		}
		s.heartbeat = s.loop.Every(s.opts.HeartbeatInterval, s.beat(gen))
	})
	result <- nil
}

// beat is one heartbeat check. Returning false ends the timer. Any exit is
// restarted: a non-zero exit code is treated as a crash, not a refusal.
func (s *Supervisor) beat(gen uint64) func() bool {
	return func() bool {
		if s.generation != gen || s.proc == nil {
			return false
		}
		if !s.Status().Enabled {
			s.heartbeat = nil
			s.update(func(st *Status) { st.AliveAt = time.Time{} })
			return false
		}
		if code, exited := s.proc.Exited(); exited {
			s.restart(code)
			return false
		}
		s.update(func(st *Status) { st.AliveAt = time.Now() })
		return true
	}
}

func (s *Supervisor) restart(code int) {
	s.logger.Warn("device UI process exited, restarting", "exit_code", code)
	metrics.ProcessRestarts.Inc()
	s.update(func(st *Status) {
		st.State = StateRestarting
		st.Restarts++
	})

	s.Stop()
	result, err := s.Start()
	if err != nil {
		return
	}
	go func() {
		if err := <-result; err != nil {
			s.logger.Error("restart failed", "error", err)
		}
	}()
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	prev := s.status.State
	fn(&s.status)
	snapshot := s.status
	s.mu.Unlock()
	if snapshot.State != prev && s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(snapshot)
	}
}
