package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// StepOptions are the per-step settings of the plugin.
type StepOptions struct {
	VideoEnabled bool `json:"video_enabled"`
}

// DefaultStepOptions is used for steps that have no stored options.
func DefaultStepOptions() StepOptions {
	return StepOptions{VideoEnabled: true}
}

// StepStore persists step options per plugin and step number.
type StepStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewStepStore(db *sql.DB) *StepStore {
	return &StepStore{db: db, now: time.Now}
}

// Get returns the options of a step, or the defaults when none are stored.
// Fields missing from the stored document keep their default.
func (s *StepStore) Get(ctx context.Context, plugin string, step int) (StepOptions, error) {
	if err := validateStep(plugin, step); err != nil {
		return StepOptions{}, err
	}

	opts := DefaultStepOptions()
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT options FROM step_options WHERE plugin_name = ? AND step_number = ?;",
		plugin, step,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return opts, nil
	}
	if err != nil {
		return StepOptions{}, fmt.Errorf("read step options: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return StepOptions{}, fmt.Errorf("decode step options for plugin=%q step=%d: %w", plugin, step, err)
	}
	return opts, nil
}

// Put stores the options of a step.
func (s *StepStore) Put(ctx context.Context, plugin string, step int, opts StepOptions) error {
	if err := validateStep(plugin, step); err != nil {
		return err
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal step options: %w", err)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO step_options(plugin_name, step_number, options, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(plugin_name, step_number) DO UPDATE SET
  options = excluded.options,
  updated_at = excluded.updated_at;
`, plugin, step, string(data), now)
	if err != nil {
		return fmt.Errorf("upsert step options: %w", err)
	}
	return nil
}

// Delete removes the stored options of a step.
func (s *StepStore) Delete(ctx context.Context, plugin string, step int) error {
	if err := validateStep(plugin, step); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM step_options WHERE plugin_name = ? AND step_number = ?;", plugin, step,
	); err != nil {
		return fmt.Errorf("delete step options: %w", err)
	}
	return nil
}

func validateStep(plugin string, step int) error {
	if plugin == "" {
		return fmt.Errorf("plugin name is empty")
	}
	if step < 0 {
		return fmt.Errorf("step number must be >= 0, got %d", step)
	}
	return nil
}
