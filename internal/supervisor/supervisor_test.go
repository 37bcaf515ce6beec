package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deviceui/internal/eventloop"
	"github.com/mattjoyce/deviceui/internal/hub"
	"github.com/mattjoyce/deviceui/internal/hub/mocks"
)

type fakeProcess struct {
	pid int

	mu     sync.Mutex
	exited bool
	code   int
	kills  int
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Exited() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.exited
}

func (p *fakeProcess) KillTree(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
	p.exited = true
	p.code = -9
	return nil
}

func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	p.code = code
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

type fakeSpawner struct {
	mu    sync.Mutex
	argv  [][]string
	procs []*fakeProcess
	err   error
}

func (s *fakeSpawner) Spawn(argv []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := &fakeProcess{pid: 1000 + len(s.procs)}
	s.argv = append(s.argv, argv)
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) spawned() []*fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeProcess(nil), s.procs...)
}

type transitions struct {
	mu     sync.Mutex
	states []State
}

func (tr *transitions) record(st Status) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.states = append(tr.states, st.State)
}

func (tr *transitions) count(s State) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, st := range tr.states {
		if st == s {
			n++
		}
	}
	return n
}

type harness struct {
	loop    *eventloop.Loop
	sup     *Supervisor
	spawner *fakeSpawner
	caller  *mocks.MockCaller
	tr      *transitions
	ready   chan struct{}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)

	loop := eventloop.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()

	h := &harness{
		loop:    loop,
		spawner: &fakeSpawner{},
		caller:  mocks.NewMockCaller(ctrl),
		tr:      &transitions{},
		ready:   make(chan struct{}, 8),
	}
	alloc := func(context.Context) (string, error) { return `{"x":1}`, nil }
	hooks := Hooks{
		OnReady:       func(context.Context) { h.ready <- struct{}{} },
		OnStateChange: h.tr.record,
	}
	h.sup = New(opts, loop, h.caller, h.spawner, alloc, hooks, nil)

	t.Cleanup(func() {
		_ = loop.Call(context.Background(), h.sup.Stop)
		h.sup.Close()
		cancel()
		<-loop.Done()
	})
	return h
}

func (h *harness) start(t *testing.T) <-chan error {
	t.Helper()
	var (
		result <-chan error
		err    error
	)
	require.NoError(t, h.loop.Call(context.Background(), func() { result, err = h.sup.Start() }))
	require.NoError(t, err)
	return result
}

func (h *harness) onLoop(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Call(context.Background(), fn))
}

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handshake result")
		return nil
	}
}

func testOptions() Options {
	return Options{
		Name:                 "ui",
		Command:              []string{"device-view"},
		Mode:                 "fixed",
		HubURL:               "nats://127.0.0.1:4222",
		HeartbeatInterval:    10 * time.Millisecond,
		KillTimeout:          time.Second,
		HandshakeAttempts:    3,
		HandshakeInterval:    0,
		HandshakePingTimeout: time.Second,
	}
}

func pingOK(caller *mocks.MockCaller) {
	caller.EXPECT().
		Call(gomock.Any(), "ui", "ping", time.Second, gomock.Nil()).
		Return(json.RawMessage(`"pong"`), nil).
		AnyTimes()
}

func TestStartRunsHandshakeThenHeartbeat(t *testing.T) {
	h := newHarness(t, testOptions())
	pingOK(h.caller)

	require.NoError(t, waitResult(t, h.start(t)))
	<-h.ready

	st := h.sup.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 1000, st.Pid)
	assert.True(t, st.Enabled)
	assert.True(t, h.sup.Ready())

	first := st.AliveAt
	assert.Eventually(t, func() bool { return h.sup.Status().AliveAt.After(first) }, time.Second, 5*time.Millisecond,
		"heartbeat should refresh the alive timestamp")

	assert.Equal(t, 1, h.tr.count(StateStarting))
	assert.Equal(t, 1, h.tr.count(StateHandshakePending))
	assert.Equal(t, 1, h.tr.count(StateRunning))
}

func TestSpawnArguments(t *testing.T) {
	opts := testOptions()
	opts.Debug = true
	h := newHarness(t, opts)
	pingOK(h.caller)

	require.NoError(t, waitResult(t, h.start(t)))
	assert.Equal(t, []string{"device-view", "-n", "ui", "-a", `{"x":1}`, "-d", "fixed", "nats://127.0.0.1:4222"}, h.spawner.argv[0])
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, testOptions())
	pingOK(h.caller)
	require.NoError(t, waitResult(t, h.start(t)))

	var err error
	h.onLoop(t, func() { _, err = h.sup.Start() })
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSpawnErrorIsReturned(t *testing.T) {
	h := newHarness(t, testOptions())
	h.spawner.err = errors.New("executable not found")

	var (
		result <-chan error
		err    error
	)
	h.onLoop(t, func() { result, err = h.sup.Start() })
	assert.Nil(t, result)

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Contains(t, err.Error(), "executable not found")
	assert.Equal(t, StateStopped, h.sup.Status().State)
	assert.NotEmpty(t, h.sup.Status().LastError)
}

func TestHandshakeTimeoutLeavesNoProcess(t *testing.T) {
	h := newHarness(t, testOptions())
	h.caller.EXPECT().
		Call(gomock.Any(), "ui", "ping", gomock.Any(), gomock.Any()).
		Return(nil, &hub.CallError{Endpoint: "ui", Command: "ping", Kind: hub.ErrTimeout}).
		Times(3)

	err := waitResult(t, h.start(t))
	require.ErrorIs(t, err, ErrHandshakeTimeout)

	procs := h.spawner.spawned()
	require.Len(t, procs, 1)
	assert.Eventually(t, func() bool { return procs[0].killCount() == 1 }, time.Second, 5*time.Millisecond)

	st := h.sup.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Zero(t, st.Pid)
	assert.False(t, h.sup.Ready())
	assert.Contains(t, st.LastError, "timed out")

	var tracked bool
	h.onLoop(t, func() { tracked = h.sup.HasProcess() })
	assert.False(t, tracked)
}

func TestHeartbeatRestartsExitedProcess(t *testing.T) {
	h := newHarness(t, testOptions())
	pingOK(h.caller)
	require.NoError(t, waitResult(t, h.start(t)))
	<-h.ready

	first := h.spawner.spawned()[0]
	first.exit(0)

	assert.Eventually(t, func() bool {
		return len(h.spawner.spawned()) == 2 && h.sup.Status().State == StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.tr.count(StateRestarting))
	assert.Equal(t, 1, h.tr.count(StateStopped), "exactly one stop")
	assert.Equal(t, 2, h.tr.count(StateStarting), "initial start plus exactly one restart")
	assert.Equal(t, 0, first.killCount(), "an exited process is not killed")

	st := h.sup.Status()
	assert.Equal(t, 1001, st.Pid)
	assert.Equal(t, 1, st.Restarts)

	// No further restarts while the new process is alive.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.spawner.spawned(), 2)
}

func TestHeartbeatRestartsOnCrash(t *testing.T) {
	h := newHarness(t, testOptions())
	pingOK(h.caller)
	require.NoError(t, waitResult(t, h.start(t)))
	<-h.ready

	h.spawner.spawned()[0].exit(1)
	assert.Eventually(t, func() bool { return len(h.spawner.spawned()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestDisableStopsHeartbeat(t *testing.T) {
	h := newHarness(t, testOptions())
	pingOK(h.caller)
	require.NoError(t, waitResult(t, h.start(t)))
	<-h.ready

	h.onLoop(t, func() { h.sup.SetEnabled(false) })
	assert.Eventually(t, func() bool { return h.sup.Status().AliveAt.IsZero() }, time.Second, 5*time.Millisecond)

	// Exits are no longer acted upon.
	h.spawner.spawned()[0].exit(0)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.spawner.spawned(), 1)
	assert.False(t, h.sup.Ready())
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, testOptions())
	pingOK(h.caller)
	require.NoError(t, waitResult(t, h.start(t)))
	<-h.ready

	proc := h.spawner.spawned()[0]
	h.onLoop(t, h.sup.Stop)
	h.onLoop(t, h.sup.Stop)

	assert.Equal(t, 1, proc.killCount())
	st := h.sup.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.True(t, st.AliveAt.IsZero())
	assert.False(t, h.sup.Ready())
}

func TestStopDuringHandshakeSupersedesResult(t *testing.T) {
	opts := testOptions()
	opts.HandshakeAttempts = 50
	opts.HandshakeInterval = 20 * time.Millisecond
	h := newHarness(t, opts)

	release := make(chan struct{})
	h.caller.EXPECT().
		Call(gomock.Any(), "ui", "ping", gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string, _ time.Duration, _ map[string]any) (json.RawMessage, error) {
			<-release
			return json.RawMessage(`"pong"`), nil
		}).
		AnyTimes()

	result := h.start(t)
	h.onLoop(t, h.sup.Stop)
	close(release)

	assert.ErrorIs(t, waitResult(t, result), ErrSuperseded)
	assert.Equal(t, StateStopped, h.sup.Status().State)
	assert.Equal(t, 0, h.tr.count(StateRunning))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "handshake_pending", StateHandshakePending.String())
	text, err := StateRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "running", string(text))
}
