// Package uisync moves settings between the persisted app settings and a
// live device UI process.
package uisync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mattjoyce/deviceui/internal/hub"
	"github.com/mattjoyce/deviceui/internal/metrics"
	"github.com/mattjoyce/deviceui/internal/settings"
)

// ErrNotReady is returned by Push when no confirmed-alive process exists.
var ErrNotReady = errors.New("device UI process not ready")

// Device UI commands.
const (
	CmdGetVideoConfig    = "get_video_config"
	CmdGetCorners        = "get_corners"
	CmdGetSurfaceAlphas  = "get_surface_alphas"
	CmdSetVideoConfig    = "set_video_config"
	CmdSetSurfaceAlphas  = "set_surface_alphas"
	CmdSetDefaultCorners = "set_default_corners"
	CmdSetCorners        = "set_corners"
)

// Target is the process settings are exchanged with.
type Target interface {
	// Name is the hub endpoint of the process.
	Name() string
	// Ready reports whether the process is confirmed alive.
	Ready() bool
}

// AppValues reads and updates the persisted app settings.
type AppValues interface {
	AppValues(ctx context.Context) (settings.AppSettings, error)
	// MergeAppValues replaces the top-level keys of updates atomically and
	// reports whether anything changed.
	MergeAppValues(ctx context.Context, updates settings.WireSettings) (bool, error)
}

// Options configures a Synchronizer.
type Options struct {
	PullTimeout time.Duration
	PushTimeout time.Duration
}

// Synchronizer pulls, pushes and persists device UI settings.
type Synchronizer struct {
	caller hub.Caller
	target Target
	store  AppValues
	opts   Options
	logger *slog.Logger
}

// New creates a Synchronizer.
func New(caller hub.Caller, target Target, store AppValues, opts Options, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = 2 * time.Second
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 5 * time.Second
	}
	return &Synchronizer{caller: caller, target: target, store: store, opts: opts, logger: logger}
}

// Pull queries the process for video config, corners with window
// allocation, and surface alphas. A sub-query that fails is logged and left
// out of the result.
func (s *Synchronizer) Pull(ctx context.Context) settings.WireSettings {
	wire := settings.WireSettings{}
	name := s.target.Name()

	if text, ok := s.pullSeries(ctx, name, CmdGetVideoConfig); ok {
		wire[settings.KeyVideoConfig] = text
	}

	if res, err := s.caller.Call(ctx, name, CmdGetCorners, s.opts.PullTimeout, nil); err != nil {
		s.warnCallFailed("window allocation and corners", CmdGetCorners, err)
	} else if err := mergeCorners(wire, res); err != nil {
		s.logger.Warn("invalid corners response", "error", err)
	}

	if text, ok := s.pullSeries(ctx, name, CmdGetSurfaceAlphas); ok {
		wire[settings.KeySurfaceAlphas] = text
	}
	return wire
}

// PullTyped is Pull followed by conversion to typed settings.
func (s *Synchronizer) PullTyped(ctx context.Context) (*settings.TypedSettings, error) {
	return settings.WireToTyped(s.Pull(ctx))
}

func (s *Synchronizer) pullSeries(ctx context.Context, name, command string) (string, bool) {
	res, err := s.caller.Call(ctx, name, command, s.opts.PullTimeout, nil)
	if err != nil {
		s.warnCallFailed("settings", command, err)
		return "", false
	}
	if isNull(res) {
		return "", true
	}
	series, err := settings.ParseSeries(string(res))
	if err != nil {
		s.logger.Warn("invalid settings response", "command", command, "error", err)
		return "", false
	}
	text, err := series.Text()
	if err != nil {
		s.logger.Warn("invalid settings response", "command", command, "error", err)
		return "", false
	}
	return text, true
}

// warnCallFailed logs a failed sub-query, telling an unresponsive process
// apart from a broken connection or a remote error.
func (s *Synchronizer) warnCallFailed(what, command string, err error) {
	if hub.IsTimeout(err) {
		s.logger.Warn("device UI did not answer "+what+" query", "command", command, "timeout", s.opts.PullTimeout)
		return
	}
	s.logger.Warn(what+" query failed", "command", command, "error", err)
}

// mergeCorners copies the allocation fields of a get_corners result into
// wire and stores each tagged frame as CSV under its untagged name.
func mergeCorners(wire settings.WireSettings, res json.RawMessage) error {
	if isNull(res) {
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(res, &doc); err != nil {
		return fmt.Errorf("decode corners: %w", err)
	}
	if len(doc) == 0 {
		return nil
	}

	alloc := map[string]any{}
	if raw, ok := doc["allocation"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &alloc); err != nil {
			return fmt.Errorf("decode allocation: %w", err)
		}
	}

	var errs []error
	for key, raw := range doc {
		if !strings.HasPrefix(key, settings.FramePrefix) || isNull(raw) {
			continue
		}
		var frame settings.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			errs = append(errs, fmt.Errorf("decode %s: %w", key, err))
			continue
		}
		text, err := frame.CSV()
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", key, err))
			continue
		}
		alloc[strings.TrimPrefix(key, settings.FramePrefix)] = text
	}

	for k, v := range alloc {
		wire[k] = settings.Normalize(v)
	}
	return errors.Join(errs...)
}

// PushResult lists the fields a Push delivered and the ones that failed.
type PushResult struct {
	Sent   []string
	Failed map[string]error
}

// Err joins the per-field failures.
func (r PushResult) Err() error {
	var errs []error
	for field, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", field, err))
	}
	return errors.Join(errs...)
}

// Push sends the present fields of typed to the process. Corners are only
// sent when both frames are present, through set_default_corners when
// useDefaultCorners is set and set_corners otherwise. Each command is sent
// independently; failures are logged and reported in the result. Corner
// frames that are not rectangular are reported as failed without being
// sent. Push fails with ErrNotReady, without sending anything, unless the
// process is confirmed alive.
func (s *Synchronizer) Push(ctx context.Context, typed *settings.TypedSettings, useDefaultCorners bool) (PushResult, error) {
	result := PushResult{Failed: map[string]error{}}
	if typed == nil {
		return result, errors.New("no settings to push")
	}
	if !s.target.Ready() {
		return result, ErrNotReady
	}
	name := s.target.Name()

	send := func(field, command string, kwargs map[string]any) {
		if _, err := s.caller.Call(ctx, name, command, s.opts.PushTimeout, kwargs); err != nil {
			metrics.SettingsPushFailures.WithLabelValues(field).Inc()
			s.logger.Warn("failed to push setting", "field", field, "command", command, "error", err)
			result.Failed[field] = err
			return
		}
		result.Sent = append(result.Sent, field)
	}

	if typed.VideoConfig != nil {
		send(settings.KeyVideoConfig, CmdSetVideoConfig, map[string]any{"video_config": typed.VideoConfig})
	}
	if typed.SurfaceAlphas != nil {
		send(settings.KeySurfaceAlphas, CmdSetSurfaceAlphas, map[string]any{"surface_alphas": typed.SurfaceAlphas})
	}
	if typed.HasCorners() {
		if err := typed.Validate(); err != nil {
			s.logger.Warn("invalid corners not pushed", "error", err)
			result.Failed["corners"] = err
		} else if useDefaultCorners {
			send("corners", CmdSetDefaultCorners, map[string]any{
				"canvas": typed.CanvasCorners,
				"frame":  typed.FrameCorners,
			})
		} else {
			send("corners", CmdSetCorners, map[string]any{
				"df_canvas_corners": typed.CanvasCorners,
				"df_frame_corners":  typed.FrameCorners,
			})
		}
	}
	return result, nil
}

// PushStored converts the persisted app settings and pushes them. Fields
// that fail to convert are logged and skipped.
func (s *Synchronizer) PushStored(ctx context.Context, useDefaultCorners bool) (PushResult, error) {
	if !s.target.Ready() {
		return PushResult{Failed: map[string]error{}}, ErrNotReady
	}
	stored, err := s.store.AppValues(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("read app values: %w", err)
	}
	typed, err := settings.WireToTyped(settings.WireSettings(stored))
	if err != nil {
		s.logger.Warn("stored settings partially invalid", "error", err)
	}
	return s.Push(ctx, typed, useDefaultCorners)
}

// Persist writes wire into the persisted app settings if any of its
// values differ from what is stored. It reports whether a write happened.
func (s *Synchronizer) Persist(ctx context.Context, wire settings.WireSettings) (bool, error) {
	written, err := s.store.MergeAppValues(ctx, wire)
	if err != nil {
		return false, fmt.Errorf("write app values: %w", err)
	}
	if !written {
		s.logger.Debug("app settings unchanged")
		return false, nil
	}
	metrics.SettingsWrites.Inc()
	s.logger.Info("saved device UI settings", "fields", len(wire))
	return true, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
