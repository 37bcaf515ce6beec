package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/deviceui/internal/metrics"
)

// ErrHandshakeTimeout matches every *HandshakeTimeoutError.
var ErrHandshakeTimeout = errors.New("handshake timed out")

// HandshakeTimeoutError is returned when no ping succeeded within the
// attempt budget.
type HandshakeTimeoutError struct {
	Attempts int
	Elapsed  time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for device UI process to connect to hub (%d attempts)",
		e.Elapsed.Round(time.Millisecond), e.Attempts)
}

func (e *HandshakeTimeoutError) Is(target error) bool {
	return target == ErrHandshakeTimeout
}

// PingFunc issues one liveness ping with the given per-call timeout.
type PingFunc func(ctx context.Context, timeout time.Duration) error

// Handshake polls a freshly spawned process until it answers a ping.
type Handshake struct {
	Ping        PingFunc
	MaxAttempts int
	Interval    time.Duration
	PingTimeout time.Duration
	Logger      *slog.Logger

	// Slices splits each wait between attempts so cancellation is noticed
	// quickly. Defaults to 10.
	Slices int
}

// WaitForReady pings until one succeeds and returns the time it did.
// It fails with *HandshakeTimeoutError once MaxAttempts pings have failed,
// or with the context error if ctx ends first.
func (h *Handshake) WaitForReady(ctx context.Context) (time.Time, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := h.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	slices := h.Slices
	if slices <= 0 {
		slices = 10
	}

	start := time.Now()
	for i := 1; i <= attempts; i++ {
		err := h.Ping(ctx, h.PingTimeout)
		if err == nil {
			metrics.HandshakeAttempts.WithLabelValues("success").Inc()
			metrics.RecordHandshake(true, time.Since(start))
			logger.Info("handshake succeeded", "attempt", i, "max_attempts", attempts)
			return time.Now(), nil
		}
		metrics.HandshakeAttempts.WithLabelValues("failure").Inc()
		logger.Debug("handshake ping failed", "attempt", i, "max_attempts", attempts, "error", err)

		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		if i == attempts {
			break
		}
		if err := sleepSliced(ctx, h.Interval, slices); err != nil {
			return time.Time{}, err
		}
	}

	elapsed := time.Since(start)
	metrics.RecordHandshake(false, elapsed)
	return time.Time{}, &HandshakeTimeoutError{Attempts: attempts, Elapsed: elapsed}
}

func sleepSliced(ctx context.Context, d time.Duration, slices int) error {
	if d <= 0 {
		return nil
	}
	step := d / time.Duration(slices)
	if step <= 0 {
		step = d
	}
	for waited := time.Duration(0); waited < d; waited += step {
		t := time.NewTimer(step)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
