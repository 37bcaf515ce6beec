// Package settings converts device UI settings between the wire form
// (flat primitives, CSV and JSON text) and the typed form used as command
// arguments to the device UI process.
package settings

import (
	"errors"
	"fmt"
)

// Setting names shared by app settings, wire settings and hub commands.
const (
	KeyX             = "x"
	KeyY             = "y"
	KeyWidth         = "width"
	KeyHeight        = "height"
	KeyVideoConfig   = "video_config"
	KeySurfaceAlphas = "surface_alphas"
	KeyCanvasCorners = "canvas_corners"
	KeyFrameCorners  = "frame_corners"

	// FramePrefix tags a key whose value is a Frame.
	FramePrefix = "df_"
)

// AllocationKeys are the window geometry fields.
var AllocationKeys = []string{KeyX, KeyY, KeyWidth, KeyHeight}

// ComplexKeys hold serialized structured state.
var ComplexKeys = []string{KeyVideoConfig, KeySurfaceAlphas, KeyCanvasCorners, KeyFrameCorners}

// WireSettings is a JSON-compatible settings document with primitive values.
type WireSettings map[string]any

// TypedSettings is the typed counterpart of WireSettings. A nil field is
// not present.
type TypedSettings struct {
	CanvasCorners *Frame
	FrameCorners  *Frame
	VideoConfig   *Series
	SurfaceAlphas *Series
}

// HasCorners reports whether both corner frames are present.
func (t *TypedSettings) HasCorners() bool {
	return t.CanvasCorners != nil && t.FrameCorners != nil
}

// Validate checks corner pairing and frame shape.
func (t *TypedSettings) Validate() error {
	if (t.CanvasCorners == nil) != (t.FrameCorners == nil) {
		return fmt.Errorf("canvas and frame corners must be set together")
	}
	if t.CanvasCorners != nil {
		if err := t.CanvasCorners.Validate(); err != nil {
			return fmt.Errorf("%s: %w", KeyCanvasCorners, err)
		}
		if err := t.FrameCorners.Validate(); err != nil {
			return fmt.Errorf("%s: %w", KeyFrameCorners, err)
		}
	}
	return nil
}

// Equal compares present fields and their contents.
func (t *TypedSettings) Equal(o *TypedSettings) bool {
	return t.CanvasCorners.Equal(o.CanvasCorners) &&
		t.FrameCorners.Equal(o.FrameCorners) &&
		equalSeriesField(t.VideoConfig, o.VideoConfig) &&
		equalSeriesField(t.SurfaceAlphas, o.SurfaceAlphas)
}

// A nil field (not present) differs from a present null series.
func equalSeriesField(a, b *Series) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}

// ConversionError reports a field that could not be converted.
type ConversionError struct {
	Field string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Field, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// TypedToWire serializes typed settings. Frames become CSV text and series
// become JSON text, or "" for the null series. Fields that fail are left
// out and reported as *ConversionError values joined into the error.
func TypedToWire(t *TypedSettings) (WireSettings, error) {
	wire := WireSettings{}
	var errs []error

	frames := []struct {
		key   string
		frame *Frame
	}{
		{KeyCanvasCorners, t.CanvasCorners},
		{KeyFrameCorners, t.FrameCorners},
	}
	for _, f := range frames {
		if f.frame == nil {
			continue
		}
		text, err := f.frame.CSV()
		if err != nil {
			errs = append(errs, &ConversionError{Field: f.key, Err: err})
			continue
		}
		wire[f.key] = text
	}

	series := []struct {
		key string
		s   *Series
	}{
		{KeyVideoConfig, t.VideoConfig},
		{KeySurfaceAlphas, t.SurfaceAlphas},
	}
	for _, f := range series {
		if f.s == nil {
			continue
		}
		text, err := f.s.Text()
		if err != nil {
			errs = append(errs, &ConversionError{Field: f.key, Err: err})
			continue
		}
		wire[f.key] = text
	}

	return wire, errors.Join(errs...)
}

// WireToTyped parses wire settings. Corner frames are parsed only when both
// corner fields are present and non-empty; otherwise neither is set and no
// error is reported. Each field converts independently: the returned
// settings hold every field that succeeded even when the error is non-nil.
func WireToTyped(w WireSettings) (*TypedSettings, error) {
	typed := &TypedSettings{}
	var errs []error

	canvasText, canvasOK, err := textField(w, KeyCanvasCorners)
	if err != nil {
		errs = append(errs, err)
	}
	frameText, frameOK, err := textField(w, KeyFrameCorners)
	if err != nil {
		errs = append(errs, err)
	}
	if canvasOK && frameOK && canvasText != "" && frameText != "" {
		canvas, cerr := ParseFrameCSV(canvasText)
		if cerr != nil {
			errs = append(errs, &ConversionError{Field: KeyCanvasCorners, Err: cerr})
		}
		frame, ferr := ParseFrameCSV(frameText)
		if ferr != nil {
			errs = append(errs, &ConversionError{Field: KeyFrameCorners, Err: ferr})
		}
		if cerr == nil && ferr == nil {
			typed.CanvasCorners = canvas
			typed.FrameCorners = frame
		}
	}

	for _, key := range []string{KeyVideoConfig, KeySurfaceAlphas} {
		text, ok, err := textField(w, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		s := NullSeries()
		if text != "" {
			s, err = ParseSeries(text)
			if err != nil {
				errs = append(errs, &ConversionError{Field: key, Err: err})
				continue
			}
		}
		switch key {
		case KeyVideoConfig:
			typed.VideoConfig = s
		case KeySurfaceAlphas:
			typed.SurfaceAlphas = s
		}
	}

	return typed, errors.Join(errs...)
}

// textField reads a string field. A JSON null counts as the empty string.
func textField(w WireSettings, key string) (string, bool, error) {
	v, ok := w[key]
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case nil:
		return "", true, nil
	case string:
		return val, true, nil
	default:
		return "", false, &ConversionError{Field: key, Err: fmt.Errorf("expected string, got %T", v)}
	}
}
