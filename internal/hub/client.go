// Package hub is the request/response messaging hub the host and the
// device UI process use to talk to each other. Endpoints are addressed by
// name and commands are served on NATS subjects.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/deviceui/internal/log"
	"github.com/mattjoyce/deviceui/internal/metrics"
	"github.com/mattjoyce/deviceui/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_caller.go -package=mocks github.com/mattjoyce/deviceui/internal/hub Caller

// Caller issues a named command to a named endpoint and waits up to
// timeout for the result. Any failure is returned as a *CallError.
type Caller interface {
	Call(ctx context.Context, endpoint, command string, timeout time.Duration, kwargs map[string]any) (json.RawMessage, error)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	URL            string
	Name           string
	SubjectPrefix  string
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// Client is a Caller backed by a NATS connection.
type Client struct {
	nc             *nats.Conn
	ownsConn       bool
	prefix         string
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Connect dials the hub and returns a Client that owns the connection.
func Connect(opts ClientOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "deviceui"
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("hub disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("hub reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to hub %s: %w", opts.URL, err)
	}

	c := NewClient(nc, opts.SubjectPrefix, opts.DefaultTimeout, logger)
	c.ownsConn = true
	return c, nil
}

// NewClient wraps an existing connection. The caller keeps ownership of nc.
func NewClient(nc *nats.Conn, prefix string, defaultTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Client{
		nc:             nc,
		prefix:         prefix,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn {
	return c.nc
}

// Call implements Caller.
func (c *Client) Call(ctx context.Context, endpoint, command string, timeout time.Duration, kwargs map[string]any) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	start := time.Now()
	result, err := c.call(ctx, endpoint, command, timeout, kwargs)
	metrics.RecordHubCall(command, outcome(err), time.Since(start))
	return result, err
}

func (c *Client) call(ctx context.Context, endpoint, command string, timeout time.Duration, kwargs map[string]any) (json.RawMessage, error) {
	callErr := func(kind, err error) error {
		return &CallError{Endpoint: endpoint, Command: command, Kind: kind, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	req, err := protocol.NewRequest(uuid.NewString(), command, kwargs, deadline)
	if err != nil {
		return nil, callErr(ErrTransport, err)
	}
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, callErr(ErrTransport, err)
	}

	subject := Subject(c.prefix, endpoint, command)
	logger := log.WithCommand(c.logger, endpoint, command).With("request_id", req.RequestID)
	logger.Debug("hub call", "subject", subject, "timeout", timeout)

	msg, err := c.nc.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if isTimeout(err) {
			logger.Debug("hub call timed out", "timeout", timeout)
			return nil, callErr(ErrTimeout, err)
		}
		logger.Debug("hub call failed", "error", err)
		return nil, callErr(ErrTransport, err)
	}

	resp, err := protocol.DecodeResponse(msg.Data)
	if err != nil {
		return nil, callErr(ErrTransport, err)
	}
	if resp.Status != "ok" {
		return nil, callErr(ErrRemote, errors.New(resp.Error))
	}
	return resp.Result, nil
}

// Close drains the connection when the client owns it.
func (c *Client) Close() error {
	if !c.ownsConn || c.nc == nil {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("drain hub connection: %w", err)
	}
	return nil
}

// No responders means nobody is listening yet. For a caller that is the
// same as not hearing back in time.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoResponders)
}
