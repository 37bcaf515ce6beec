package settings

import (
	"bytes"
	"math"
	"reflect"
	"sort"

	"github.com/goccy/go-json"
)

// AppSettings is the persisted settings mapping of the plugin.
type AppSettings map[string]any

// Screen describes the display default window geometry is computed from.
type Screen struct {
	Width          int
	Height         int
	Top            int
	TitlebarHeight int
}

// DefaultAppSettings returns the values used for missing fields: the window
// fills the right half of the screen below the titlebar and no structured
// state is assigned.
func DefaultAppSettings(screen Screen) AppSettings {
	return AppSettings{
		KeyX:             int64(0.5 * float64(screen.Width)),
		KeyY:             int64(screen.Top),
		KeyWidth:         int64(0.5 * float64(screen.Width)),
		KeyHeight:        int64(float64(screen.Height) - 1.5*float64(screen.TitlebarHeight)),
		KeyVideoConfig:   "",
		KeySurfaceAlphas: "",
		KeyCanvasCorners: "",
		KeyFrameCorners:  "",
	}
}

// Clone returns a shallow copy.
func (a AppSettings) Clone() AppSettings {
	out := make(AppSettings, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// WithDefaults returns a copy of a with every missing default filled in.
func (a AppSettings) WithDefaults(defaults AppSettings) AppSettings {
	out := a.Clone()
	for k, v := range defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Allocation builds the window allocation document handed to a new device
// UI process. On first run the geometry fields come from defaults rather
// than stored values.
func Allocation(stored AppSettings, firstRun bool, screen Screen) AppSettings {
	defaults := DefaultAppSettings(screen)
	out := stored.WithDefaults(defaults)
	if firstRun {
		for _, k := range AllocationKeys {
			out[k] = defaults[k]
		}
	}
	return out
}

// EncodeAllocation renders a as a JSON object with geometry first, then the
// structured fields, then any other keys in sorted order.
func EncodeAllocation(a AppSettings) (string, error) {
	seen := make(map[string]bool, len(a))
	keys := make([]string, 0, len(a))
	for _, k := range AllocationKeys {
		if _, ok := a[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for _, k := range ComplexKeys {
		if _, ok := a[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range a {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		vb, err := json.Marshal(Normalize(a[k]))
		if err != nil {
			return "", err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// Normalize maps numbers to int64 when they are integral so values read
// back from JSON compare equal to the integers that were stored.
func Normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	case float32:
		return normalizeFloat(float64(n))
	case float64:
		return normalizeFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return n.String()
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// NormalizeAll returns a copy of a with every value normalized.
func NormalizeAll(a map[string]any) AppSettings {
	out := make(AppSettings, len(a))
	for k, v := range a {
		out[k] = Normalize(v)
	}
	return out
}

// Differs reports whether applying update to stored would change it: some
// key of update is missing from stored or holds a different value.
func Differs(stored AppSettings, update WireSettings) bool {
	for k, v := range update {
		cur, ok := stored[k]
		if !ok {
			return true
		}
		if !reflect.DeepEqual(Normalize(cur), Normalize(v)) {
			return true
		}
	}
	return false
}

// Merge returns a copy of stored with update applied.
func Merge(stored AppSettings, update WireSettings) AppSettings {
	out := stored.Clone()
	for k, v := range update {
		out[k] = Normalize(v)
	}
	return out
}
