// Package host runs the deviceui services under a suture supervisor tree.
package host

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64
	// FailureBackoff is the duration to wait when threshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// Tree is the service tree of one deviceui host: the plugin lifecycle and,
// optionally, the control API. The event loop and the embedded broker are
// run by the caller so they outlive the tree during shutdown.
type Tree struct {
	root   *suture.Supervisor
	logger *slog.Logger
	config TreeConfig
}

// NewTree creates a tree with suture lifecycle events logged on logger.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		// Covers the settings pull and the process kill timeout.
		config.ShutdownTimeout = 30 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	root := suture.New("deviceui", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	})
	return &Tree{root: root, logger: logger, config: config}
}

// Add adds a service to the root supervisor.
func (t *Tree) Add(svc suture.Service) suture.ServiceToken {
	return t.root.Add(svc)
}

// Serve blocks until ctx is canceled and all services stopped.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
