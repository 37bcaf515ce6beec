// Package plugin is the host-facing glue around one device UI instance. It
// composes the supervisor and the settings synchronizer with the persisted
// stores and turns host signals (enable, disable, step run, app exit) into
// operations on them.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattjoyce/deviceui/internal/config"
	"github.com/mattjoyce/deviceui/internal/eventloop"
	"github.com/mattjoyce/deviceui/internal/events"
	"github.com/mattjoyce/deviceui/internal/hub"
	"github.com/mattjoyce/deviceui/internal/log"
	"github.com/mattjoyce/deviceui/internal/settings"
	"github.com/mattjoyce/deviceui/internal/state"
	"github.com/mattjoyce/deviceui/internal/supervisor"
	"github.com/mattjoyce/deviceui/internal/uisync"
)

// Commands sent to the device UI on step run and to the command endpoint
// once the device UI is ready.
const (
	CmdEnableVideo  = "enable_video"
	CmdDisableVideo = "disable_video"
	CmdGetCommands  = "get_commands"
)

// StepOptionsReader returns the options of one protocol step.
type StepOptionsReader interface {
	Get(ctx context.Context, plugin string, step int) (state.StepOptions, error)
}

// AppState is the host application mode at the time of a step run.
type AppState struct {
	Running  bool `json:"running"`
	Realtime bool `json:"realtime"`
}

// Deps are the collaborators of a DeviceUI.
type Deps struct {
	Loop    *eventloop.Loop
	Caller  hub.Caller
	Spawner supervisor.Spawner
	Values  uisync.AppValues
	Steps   StepOptionsReader
	Events  *events.Hub
	Logger  *slog.Logger

	// HubURL is the address handed to the device UI process. Defaults to
	// hub.url from the config.
	HubURL string
	// Getenv reads the first-run flag. Defaults to os.Getenv.
	Getenv func(string) string
}

// StepResult describes what a step run did.
type StepResult struct {
	Step    int    `json:"step"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DeviceUI is one supervised device UI instance.
type DeviceUI struct {
	cfg    *config.Config
	loop   *eventloop.Loop
	caller hub.Caller
	values uisync.AppValues
	steps  StepOptionsReader
	events *events.Hub
	getenv func(string) string
	logger *slog.Logger

	sup  *supervisor.Supervisor
	sync *uisync.Synchronizer
}

// New wires a DeviceUI from cfg. Nothing is started.
func New(cfg *config.Config, deps Deps) *DeviceUI {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(100)
	}
	hubURL := deps.HubURL
	if hubURL == "" {
		hubURL = cfg.Hub.URL
	}

	d := &DeviceUI{
		cfg:    cfg,
		loop:   deps.Loop,
		caller: deps.Caller,
		values: deps.Values,
		steps:  deps.Steps,
		events: deps.Events,
		getenv: deps.Getenv,
		logger: logger,
	}

	ui := cfg.UI
	d.sup = supervisor.New(supervisor.Options{
		Name:                 ui.Name,
		Command:              ui.Command,
		Mode:                 ui.Mode,
		HubURL:               hubURL,
		Debug:                ui.Debug,
		HeartbeatInterval:    ui.HeartbeatInterval,
		KillTimeout:          ui.KillTimeout,
		HandshakeAttempts:    ui.Handshake.MaxAttempts,
		HandshakeInterval:    ui.Handshake.Interval,
		HandshakePingTimeout: ui.Handshake.PingTimeout,
	}, deps.Loop, deps.Caller, deps.Spawner, d.allocation, supervisor.Hooks{
		OnReady:       d.onReady,
		OnStateChange: d.onStateChange,
	}, logger.With("component", "supervisor"))

	d.sync = uisync.New(deps.Caller, d.sup, deps.Values, uisync.Options{
		PullTimeout: ui.Sync.PullTimeout,
		PushTimeout: ui.Sync.PushTimeout,
	}, logger.With("component", "uisync"))

	return d
}

// Name is the hub endpoint of the device UI.
func (d *DeviceUI) Name() string {
	return d.cfg.UI.Name
}

// Dependencies lists, in order, the collaborators that must be enabled
// before this plugin.
func (d *DeviceUI) Dependencies() []string {
	return append([]string(nil), d.cfg.Dependencies...)
}

// Events returns the notification hub.
func (d *DeviceUI) Events() *events.Hub {
	return d.events
}

// Status returns the supervisor snapshot.
func (d *DeviceUI) Status() supervisor.Status {
	return d.sup.Status()
}

// Enable starts the device UI. Spawn failures are returned directly; the
// channel delivers the handshake outcome once.
func (d *DeviceUI) Enable(ctx context.Context) (<-chan error, error) {
	var (
		result   <-chan error
		startErr error
	)
	if err := d.loop.Call(ctx, func() {
		result, startErr = d.sup.Start()
	}); err != nil {
		return nil, err
	}
	if startErr != nil {
		d.events.Publish(events.TypeUIError, map[string]any{"error": startErr.Error()})
		return nil, startErr
	}

	out := make(chan error, 1)
	go func() {
		err := <-result
		if err != nil {
			d.events.Publish(events.TypeUIError, map[string]any{"error": err.Error()})
		}
		out <- err
	}()
	return out, nil
}

// Disable stops keeping the device UI alive and terminates it.
func (d *DeviceUI) Disable(ctx context.Context) error {
	return d.loop.Call(ctx, func() {
		d.sup.SetEnabled(false)
		d.sup.Stop()
	})
}

// StepRun switches video on or off for step according to its options when
// the application is running (or in realtime mode) and a device UI process
// exists, then publishes step.complete.
func (d *DeviceUI) StepRun(ctx context.Context, step int, app AppState) (StepResult, error) {
	result := StepResult{Step: step}

	var hasProcess bool
	if err := d.loop.Call(ctx, func() { hasProcess = d.sup.HasProcess() }); err != nil {
		return result, err
	}

	var runErr error
	if (app.Running || app.Realtime) && hasProcess {
		opts, err := d.steps.Get(ctx, d.Name(), step)
		if err != nil {
			return result, fmt.Errorf("read step options: %w", err)
		}
		result.Command = CmdEnableVideo
		if !opts.VideoEnabled {
			result.Command = CmdDisableVideo
		}
		logger := log.WithCommand(d.logger, d.Name(), result.Command)
		logger.Debug("switching video for step", "step", step)
		if _, err := d.caller.Call(ctx, d.Name(), result.Command, d.cfg.UI.StepTimeout, nil); err != nil {
			logger.Warn("step command failed", "step", step, "error", err)
			result.Error = err.Error()
			runErr = err
		}
	}

	d.events.Publish(events.TypeStepComplete, map[string]any{
		"plugin": d.Name(),
		"step":   step,
		"result": result,
	})
	return result, runErr
}

// AppExit saves the live settings of the device UI and shuts it down.
func (d *DeviceUI) AppExit(ctx context.Context) error {
	var errs []error
	if d.sup.Ready() {
		d.logger.Info("saving device UI settings before exit")
		if _, err := d.PersistLive(ctx); err != nil {
			errs = append(errs, err)
		}
	} else {
		d.logger.Info("device UI not ready, skipping settings pull")
	}
	if err := d.Disable(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop device UI: %w", err))
	}
	return errors.Join(errs...)
}

// LiveSettings pulls the current settings from the device UI.
func (d *DeviceUI) LiveSettings(ctx context.Context) (settings.WireSettings, error) {
	if !d.sup.Ready() {
		return nil, uisync.ErrNotReady
	}
	return d.sync.Pull(ctx), nil
}

// StoredSettings returns the persisted app settings with defaults applied.
func (d *DeviceUI) StoredSettings(ctx context.Context) (settings.AppSettings, error) {
	stored, err := d.values.AppValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("read app values: %w", err)
	}
	return stored.WithDefaults(settings.DefaultAppSettings(d.screen())), nil
}

// PersistLive pulls the live settings and saves the ones that changed. It
// reports whether anything was written.
func (d *DeviceUI) PersistLive(ctx context.Context) (bool, error) {
	wire, err := d.LiveSettings(ctx)
	if err != nil {
		return false, err
	}
	written, err := d.sync.Persist(ctx, wire)
	if err != nil {
		return false, fmt.Errorf("persist settings: %w", err)
	}
	if written {
		d.events.Publish(events.TypeSettingsPersisted, map[string]any{"fields": len(wire)})
	}
	return written, nil
}

// PushStored sends the persisted settings to the running device UI using
// explicit corners.
func (d *DeviceUI) PushStored(ctx context.Context) (uisync.PushResult, error) {
	res, err := d.sync.PushStored(ctx, false)
	if err == nil {
		d.publishPushed(res)
	}
	return res, err
}

// Close cancels background work. Call Disable first.
func (d *DeviceUI) Close() {
	d.sup.Close()
}

func (d *DeviceUI) onReady(ctx context.Context) {
	res, err := d.sync.PushStored(ctx, true)
	if err != nil {
		d.logger.Warn("failed to push stored settings", "error", err)
	} else {
		d.publishPushed(res)
	}

	d.events.Publish(events.TypeUIReady, map[string]any{"name": d.Name()})

	if endpoint := d.cfg.Hub.CommandEndpoint; endpoint != "" {
		if _, err := d.caller.Call(ctx, endpoint, CmdGetCommands, 0, nil); err != nil {
			d.logger.Warn("failed to refresh commands", "endpoint", endpoint, "error", err)
		}
	}
}

func (d *DeviceUI) publishPushed(res uisync.PushResult) {
	failed := make([]string, 0, len(res.Failed))
	for field := range res.Failed {
		failed = append(failed, field)
	}
	d.events.Publish(events.TypeSettingsPushed, map[string]any{
		"sent":   res.Sent,
		"failed": failed,
	})
}

func (d *DeviceUI) onStateChange(st supervisor.Status) {
	d.events.Publish(events.TypeUIState, st)
	if st.State == supervisor.StateRestarting {
		d.events.Publish(events.TypeUIRestart, map[string]any{
			"restarts": st.Restarts,
			"at":       time.Now().UTC(),
		})
	}
}

// allocation renders the window allocation for a new process. When the
// first-run variable is set the geometry comes from screen defaults.
func (d *DeviceUI) allocation(ctx context.Context) (string, error) {
	stored, err := d.values.AppValues(ctx)
	if err != nil {
		return "", fmt.Errorf("read app values: %w", err)
	}
	return settings.EncodeAllocation(settings.Allocation(stored, d.firstRun(), d.screen()))
}

func (d *DeviceUI) firstRun() bool {
	name := d.cfg.UI.FirstRunEnv
	return name != "" && d.getenv(name) != ""
}

func (d *DeviceUI) screen() settings.Screen {
	s := d.cfg.Screen
	return settings.Screen{
		Width:          s.Width,
		Height:         s.Height,
		Top:            s.Top,
		TitlebarHeight: s.TitlebarHeight,
	}
}

var _ uisync.Target = (*supervisor.Supervisor)(nil)
