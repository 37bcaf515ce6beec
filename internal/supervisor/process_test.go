package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deviceui/internal/eventloop"
	"github.com/mattjoyce/deviceui/internal/hub"
)

const helperEnv = "DEVICEUI_TEST_HELPER"

// TestHelperProcess is not a real test. It is re-executed by the tests
// below to act as a device UI process.
func TestHelperProcess(t *testing.T) {
	switch os.Getenv(helperEnv) {
	case "ui":
		runFakeUI()
	case "sleep":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
}

func runFakeUI() {
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	var name, alloc string
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n":
			i++
			name = args[i]
		case "-a":
			i++
			alloc = args[i]
		case "-d":
		default:
			rest = append(rest, args[i])
		}
	}
	if len(rest) != 2 {
		fmt.Fprintf(os.Stderr, "usage: -n name -a alloc [-d] mode hub_url, got %v\n", args)
		os.Exit(2)
	}

	nc, err := nats.Connect(rest[1])
	if err != nil {
		os.Exit(3)
	}
	ep, err := hub.NewEndpoint(nc, "hub", name, nil)
	if err != nil {
		os.Exit(4)
	}
	ep.Handle("ping", func(context.Context, map[string]json.RawMessage) (any, error) {
		return "pong", nil
	})
	ep.Handle("get_allocation", func(context.Context, map[string]json.RawMessage) (any, error) {
		return map[string]string{"allocation": alloc, "mode": rest[0]}, nil
	})
	ep.Handle("spawn_child", func(context.Context, map[string]json.RawMessage) (any, error) {
		cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
		cmd.Env = append(os.Environ(), helperEnv+"=sleep")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		go func() { _ = cmd.Wait() }()
		return cmd.Process.Pid, nil
	})
	ep.Handle("exit", func(context.Context, map[string]json.RawMessage) (any, error) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			os.Exit(0)
		}()
		return nil, nil
	})
	if err := ep.Start(); err != nil {
		os.Exit(5)
	}

	// Never outlive the test run.
	time.Sleep(time.Minute)
	os.Exit(0)
}

type e2e struct {
	loop   *eventloop.Loop
	sup    *Supervisor
	client *hub.Client
}

func newE2E(t *testing.T) *e2e {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tree test uses unix process groups")
	}

	srv, err := hub.NewEmbeddedServer(hub.ServerConfig{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	client := hub.NewClient(nc, "hub", 2*time.Second, nil)

	loop := eventloop.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()

	opts := Options{
		Name:                 "fake_device_ui",
		Command:              []string{os.Args[0], "-test.run=^TestHelperProcess$", "--"},
		Mode:                 "fixed",
		HubURL:               srv.ClientURL(),
		HeartbeatInterval:    50 * time.Millisecond,
		KillTimeout:          5 * time.Second,
		HandshakeAttempts:    50,
		HandshakeInterval:    100 * time.Millisecond,
		HandshakePingTimeout: time.Second,
	}
	spawner := ExecSpawner{Env: append(os.Environ(), helperEnv+"=ui"), Stderr: os.Stderr}
	alloc := func(context.Context) (string, error) { return `{"x":100,"y":50}`, nil }
	sup := New(opts, loop, client, spawner, alloc, Hooks{}, nil)

	t.Cleanup(func() {
		_ = loop.Call(context.Background(), sup.Stop)
		sup.Close()
		cancel()
		<-loop.Done()
		nc.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	})
	return &e2e{loop: loop, sup: sup, client: client}
}

func (e *e2e) start(t *testing.T) {
	t.Helper()
	var (
		result <-chan error
		err    error
	)
	require.NoError(t, e.loop.Call(context.Background(), func() { result, err = e.sup.Start() }))
	require.NoError(t, err)
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("handshake did not finish")
	}
}

func TestProcessEndToEnd(t *testing.T) {
	e := newE2E(t)
	e.start(t)
	require.True(t, e.sup.Ready())

	res, err := e.client.Call(context.Background(), "fake_device_ui", "get_allocation", 0, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"allocation":"{\"x\":100,\"y\":50}","mode":"fixed"}`, string(res))

	res, err = e.client.Call(context.Background(), "fake_device_ui", "spawn_child", 0, nil)
	require.NoError(t, err)
	childPid, err := strconv.Atoi(string(res))
	require.NoError(t, err)
	child, err := process.NewProcess(int32(childPid))
	require.NoError(t, err)

	parentPid := e.sup.Status().Pid
	require.NoError(t, e.loop.Call(context.Background(), e.sup.Stop))

	assert.Eventually(t, func() bool { return gone(child) }, 5*time.Second, 50*time.Millisecond,
		"grandchild should be killed with the tree")
	parent, err := process.NewProcess(int32(parentPid))
	if err == nil {
		assert.True(t, gone(parent))
	}
	assert.Equal(t, StateStopped, e.sup.Status().State)
}

func TestProcessRestartAfterExit(t *testing.T) {
	e := newE2E(t)
	e.start(t)
	firstPid := e.sup.Status().Pid

	_, err := e.client.Call(context.Background(), "fake_device_ui", "exit", 0, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st := e.sup.Status()
		return st.State == StateRunning && st.Pid != 0 && st.Pid != firstPid
	}, 20*time.Second, 50*time.Millisecond)
	assert.Equal(t, 1, e.sup.Status().Restarts)

	_, err = e.client.Call(context.Background(), "fake_device_ui", "ping", 0, nil)
	assert.NoError(t, err)
}

func TestExecSpawnerRejectsEmptyCommand(t *testing.T) {
	_, err := ExecSpawner{}.Spawn(nil)
	assert.Error(t, err)
}
