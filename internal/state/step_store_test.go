package state

import (
	"context"
	"testing"
)

func TestStepStoreDefaults(t *testing.T) {
	t.Parallel()

	s := NewStepStore(openDB(t))
	opts, err := s.Get(context.Background(), "p", 3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !opts.VideoEnabled {
		t.Fatal("video should be enabled by default")
	}
}

func TestStepStorePutGetDelete(t *testing.T) {
	t.Parallel()

	s := NewStepStore(openDB(t))
	ctx := context.Background()

	if err := s.Put(ctx, "p", 2, StepOptions{VideoEnabled: false}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	opts, err := s.Get(ctx, "p", 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if opts.VideoEnabled {
		t.Fatal("expected stored video_enabled=false")
	}

	other, err := s.Get(ctx, "p", 1)
	if err != nil {
		t.Fatalf("Get other step: %v", err)
	}
	if !other.VideoEnabled {
		t.Fatal("other steps keep defaults")
	}

	if err := s.Delete(ctx, "p", 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	opts, err = s.Get(ctx, "p", 2)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !opts.VideoEnabled {
		t.Fatal("expected defaults after delete")
	}
}

func TestStepStoreMissingFieldKeepsDefault(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	if _, err := db.Exec(`INSERT INTO step_options(plugin_name, step_number, options) VALUES('p', 0, '{}');`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	opts, err := NewStepStore(db).Get(context.Background(), "p", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !opts.VideoEnabled {
		t.Fatal("missing field should keep default")
	}
}

func TestStepStoreValidation(t *testing.T) {
	t.Parallel()

	s := NewStepStore(openDB(t))
	if _, err := s.Get(context.Background(), "", 0); err == nil {
		t.Fatal("expected error for empty plugin")
	}
	if err := s.Put(context.Background(), "p", -1, DefaultStepOptions()); err == nil {
		t.Fatal("expected error for negative step")
	}
}
