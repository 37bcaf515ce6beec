package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/deviceui/internal/protocol"
)

// CmdPing is the liveness command every endpoint answers.
const CmdPing = "ping"

// HandlerFunc serves one command. The returned value is JSON-encoded into
// the response result; a nil value encodes as no result.
type HandlerFunc func(ctx context.Context, kwargs map[string]json.RawMessage) (any, error)

// Endpoint serves named commands for a single endpoint name.
type Endpoint struct {
	nc     *nats.Conn
	prefix string
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	sub      *nats.Subscription
}

// NewEndpoint creates an endpoint. Register handlers before Start.
func NewEndpoint(nc *nats.Conn, prefix, name string, logger *slog.Logger) (*Endpoint, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		nc:       nc,
		prefix:   prefix,
		name:     name,
		logger:   logger.With("endpoint", name),
		handlers: make(map[string]HandlerFunc),
	}, nil
}

// ServePing starts an endpoint under name that only answers ping, so peers
// waiting on this process as a dependency can find it.
func ServePing(nc *nats.Conn, prefix, name string, logger *slog.Logger) (*Endpoint, error) {
	ep, err := NewEndpoint(nc, prefix, name, logger)
	if err != nil {
		return nil, err
	}
	ep.Handle(CmdPing, func(context.Context, map[string]json.RawMessage) (any, error) {
		return "pong", nil
	})
	if err := ep.Start(); err != nil {
		return nil, err
	}
	return ep, nil
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Handle registers fn for command, replacing any previous handler.
func (e *Endpoint) Handle(command string, fn HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[command] = fn
}

// Start subscribes to every command subject of the endpoint.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub != nil {
		return fmt.Errorf("endpoint %s already started", e.name)
	}

	sub, err := e.nc.Subscribe(Subject(e.prefix, e.name, "*"), e.serve)
	if err != nil {
		return fmt.Errorf("subscribe endpoint %s: %w", e.name, err)
	}
	// Make sure the server knows about the subscription before anyone
	// is told the endpoint exists.
	if err := e.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush endpoint %s: %w", e.name, err)
	}
	e.sub = sub
	return nil
}

// Close stops serving. Safe to call more than once.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub == nil {
		return nil
	}
	err := e.sub.Unsubscribe()
	e.sub = nil
	return err
}

func (e *Endpoint) serve(msg *nats.Msg) {
	resp := e.dispatch(msg.Data)
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		e.logger.Error("failed to encode response", "error", err)
		data, _ = protocol.EncodeResponse(protocol.Fail(err))
	}
	if err := msg.Respond(data); err != nil {
		e.logger.Warn("failed to respond", "subject", msg.Subject, "error", err)
	}
}

func (e *Endpoint) dispatch(data []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		return protocol.Fail(err)
	}

	e.mu.RLock()
	fn, ok := e.handlers[req.Command]
	e.mu.RUnlock()
	if !ok {
		return protocol.Fail(fmt.Errorf("unknown command %q", req.Command))
	}

	ctx := context.Background()
	if !req.DeadlineAt.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.DeadlineAt)
		defer cancel()
	}

	start := time.Now()
	result, err := fn(ctx, req.Kwargs)
	e.logger.Debug("served command", "command", req.Command, "request_id", req.RequestID,
		"duration", time.Since(start), "error", err)
	if err != nil {
		return protocol.Fail(err)
	}
	resp, err := protocol.OK(result)
	if err != nil {
		return protocol.Fail(err)
	}
	return resp
}
