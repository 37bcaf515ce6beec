package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/deviceui/internal/hub"
	"github.com/mattjoyce/deviceui/internal/supervisor"
)

// Plugin is the device UI lifecycle driven by the host.
type Plugin interface {
	Name() string
	Dependencies() []string
	Enable(ctx context.Context) (<-chan error, error)
	AppExit(ctx context.Context) error
}

// DependencyCheck reports whether the named collaborator is available.
type DependencyCheck func(ctx context.Context, name string) error

// HubPing checks a dependency by sending it a ping through the hub.
func HubPing(caller hub.Caller, timeout time.Duration) DependencyCheck {
	return func(ctx context.Context, name string) error {
		_, err := caller.Call(ctx, name, hub.CmdPing, timeout, nil)
		return err
	}
}

// PluginService enables the plugin when the tree starts and runs the app
// exit sequence when it stops. A failed enable returns an error so the
// tree restarts the service with backoff.
type PluginService struct {
	plugin      Plugin
	check       DependencyCheck
	retry       time.Duration
	exitTimeout time.Duration
	logger      *slog.Logger
}

// NewPluginService creates the lifecycle service. check may be nil.
func NewPluginService(p Plugin, check DependencyCheck, exitTimeout time.Duration, logger *slog.Logger) *PluginService {
	if logger == nil {
		logger = slog.Default()
	}
	if exitTimeout <= 0 {
		exitTimeout = 20 * time.Second
	}
	return &PluginService{
		plugin:      p,
		check:       check,
		retry:       time.Second,
		exitTimeout: exitTimeout,
		logger:      logger,
	}
}

// Serve implements suture.Service.
func (s *PluginService) Serve(ctx context.Context) error {
	if err := s.awaitDependencies(ctx); err != nil {
		return err
	}

	result, err := s.plugin.Enable(ctx)
	switch {
	case errors.Is(err, supervisor.ErrAlreadyStarted):
		s.logger.Info("device UI already started")
	case err != nil:
		return fmt.Errorf("enable %s: %w", s.plugin.Name(), err)
	default:
		select {
		case err := <-result:
			if err != nil {
				return fmt.Errorf("enable %s: %w", s.plugin.Name(), err)
			}
			s.logger.Info("device UI ready", "name", s.plugin.Name())
		case <-ctx.Done():
		}
	}

	<-ctx.Done()

	exitCtx, cancel := context.WithTimeout(context.Background(), s.exitTimeout)
	defer cancel()
	if err := s.plugin.AppExit(exitCtx); err != nil {
		s.logger.Error("device UI exit failed", "error", err)
	}
	return ctx.Err()
}

func (s *PluginService) awaitDependencies(ctx context.Context) error {
	if s.check == nil {
		return nil
	}
	for _, dep := range s.plugin.Dependencies() {
		for {
			err := s.check(ctx, dep)
			if err == nil {
				s.logger.Info("dependency available", "dependency", dep)
				break
			}
			s.logger.Debug("waiting for dependency", "dependency", dep, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retry):
			}
		}
	}
	return nil
}

func (s *PluginService) String() string {
	return "plugin:" + s.plugin.Name()
}

// Server is a blocking server that stops when its context is canceled.
type Server interface {
	Start(ctx context.Context) error
}

// ServerService runs a Server under the tree.
type ServerService struct {
	name   string
	server Server
}

// NewServerService wraps server as a suture.Service.
func NewServerService(name string, server Server) *ServerService {
	return &ServerService{name: name, server: server}
}

// Serve implements suture.Service. Cancellation is a clean stop.
func (s *ServerService) Serve(ctx context.Context) error {
	err := s.server.Start(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (s *ServerService) String() string {
	return s.name
}
