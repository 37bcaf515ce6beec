package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/mattjoyce/deviceui/internal/settings"
)

const DefaultMaxValuesBytes = 1 << 20 // 1 MiB

// Store persists app settings per plugin.
type Store struct {
	db            *sql.DB
	maxValuesByte int
	now           func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:            db,
		maxValuesByte: DefaultMaxValuesBytes,
		now:           time.Now,
	}
}

// Get returns the stored app settings for a plugin, or an empty mapping if
// none were stored. Integral numbers come back as int64.
func (s *Store) Get(ctx context.Context, plugin string) (settings.AppSettings, error) {
	if plugin == "" {
		return nil, fmt.Errorf("plugin name is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT "values" FROM app_values WHERE plugin_name = ?;`, plugin).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.AppSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read app values: %w", err)
	}
	values, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("stored app values are invalid for plugin=%q: %w", plugin, err)
	}
	return settings.NormalizeAll(values), nil
}

// Put replaces the stored app settings for a plugin.
func (s *Store) Put(ctx context.Context, plugin string, values settings.AppSettings) error {
	if plugin == "" {
		return fmt.Errorf("plugin name is empty")
	}
	data, err := s.encode(values)
	if err != nil {
		return err
	}
	return s.upsert(ctx, s.db, plugin, data)
}

// ShallowMerge applies updates as a shallow merge (top-level keys replaced)
// inside one transaction. Nothing is written when every update already
// matches the stored value. It returns the merged values and whether a write
// happened.
func (s *Store) ShallowMerge(ctx context.Context, plugin string, updates map[string]any) (settings.AppSettings, bool, error) {
	if plugin == "" {
		return nil, false, fmt.Errorf("plugin name is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRaw string
	err = tx.QueryRowContext(ctx, `SELECT "values" FROM app_values WHERE plugin_name = ?;`, plugin).Scan(&curRaw)
	if errors.Is(err, sql.ErrNoRows) {
		curRaw = "{}"
	} else if err != nil {
		return nil, false, fmt.Errorf("read app values: %w", err)
	}

	cur, err := decodeObject(curRaw)
	if err != nil {
		return nil, false, fmt.Errorf("decode stored app values: %w", err)
	}
	stored := settings.NormalizeAll(cur)
	if !settings.Differs(stored, updates) {
		return stored, false, nil
	}
	merged := settings.Merge(stored, updates)

	data, err := s.encode(merged)
	if err != nil {
		return nil, false, err
	}
	if err := s.upsert(ctx, tx, plugin, data); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return merged, true, nil
}

// PluginValues binds the store to one plugin's app settings.
func (s *Store) PluginValues(plugin string) *PluginValues {
	return &PluginValues{store: s, plugin: plugin}
}

func (s *Store) encode(values settings.AppSettings) ([]byte, error) {
	if values == nil {
		values = settings.AppSettings{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal app values: %w", err)
	}
	if len(data) > s.maxValuesByte {
		return nil, fmt.Errorf("app values exceed max size (%d bytes)", s.maxValuesByte)
	}
	return data, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, db execer, plugin string, data []byte) error {
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := db.ExecContext(ctx, `
INSERT INTO app_values(plugin_name, "values", updated_at)
VALUES(?, ?, ?)
ON CONFLICT(plugin_name) DO UPDATE SET
  "values" = excluded."values",
  updated_at = excluded.updated_at;
`, plugin, string(data), now)
	if err != nil {
		return fmt.Errorf("upsert app values: %w", err)
	}
	return nil
}

// PluginValues reads and writes the app settings of a single plugin.
type PluginValues struct {
	store  *Store
	plugin string
}

// AppValues returns the stored app settings.
func (p *PluginValues) AppValues(ctx context.Context) (settings.AppSettings, error) {
	return p.store.Get(ctx, p.plugin)
}

// MergeAppValues shallow-merges updates into the stored app settings and
// reports whether anything changed.
func (p *PluginValues) MergeAppValues(ctx context.Context, updates settings.WireSettings) (bool, error) {
	_, written, err := p.store.ShallowMerge(ctx, p.plugin, updates)
	return written, err
}

func decodeObject(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("invalid JSON")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
