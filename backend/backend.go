// Package backend defines the boundary between the layout engine and a
// windowing system: reading the currently connected outputs, applying a
// computed arrangement, and delivering hotplug/reconfiguration events.
// The core itself never imports this package; the supervisor does.
package backend

import (
	"context"

	"github.com/linuxdeepin/layoutd/layout"
)

// Output is one physically connected display as reported by the
// windowing system, in the shape the supervisor needs to feed the core
// and the normalizer: a stable identity, current geometry, and the size
// the layout engine should pack with.
type Output struct {
	ID   uint32
	Name string
	EDID []byte
	Size layout.Size // size to pack with: active crtc size, or preferred mode if none
	Pos  layout.Pair // current absolute position; meaningless unless Enabled
	// Enabled reports whether this output already has an active crtc.
	// An output that is connected but not yet enabled has a Size (from
	// its preferred mode, for the layout engine to pack with) but no
	// current position worth reasoning about.
	Enabled    bool
	Primary    bool
	ModeWidth  int
	ModeHeight int
	RefreshHz  float64
	Rotation   uint16
}

// Fingerprint returns the identity the store indexes by: the EDID when
// present (stable across port changes), otherwise the output name.
func (o Output) Fingerprint() string {
	if len(o.EDID) > 0 {
		return string(o.EDID)
	}
	return o.Name
}

// Placement is what the supervisor asks the backend to make true for one
// output: its mode selection is untouched, only position changes.
type Placement struct {
	ID  uint32
	Pos layout.Pair
}

// ChangeKind classifies a backend event for the supervisor's state
// machine (SPEC_FULL.md §5.3).
type ChangeKind int

const (
	// Hotplug means the set of connected outputs changed.
	Hotplug ChangeKind = iota
	// ManualReconfigure means the output set is unchanged but some
	// output's geometry moved, most likely through an external tool.
	ManualReconfigure
	// Other covers property/mode changes the supervisor does not act on
	// by recomputing or relearning a layout (rotation, brightness, ...).
	Other
)

// Change is one event the backend delivers on its Events channel.
type Change struct {
	Kind    ChangeKind
	Outputs []Output
}

// Backend is the interface the supervisor drives the core through. An
// implementation owns all I/O and blocking; the methods here are the
// entire surface the rest of the daemon depends on.
type Backend interface {
	// Outputs returns the currently connected outputs.
	Outputs(ctx context.Context) ([]Output, error)

	// VirtualScreenBounds returns the maximum (and, if the windowing
	// system enforces one, minimum) virtual-screen size.
	VirtualScreenBounds(ctx context.Context) (layout.Bounds, error)

	// Apply resizes the virtual screen to (w, h) and moves every output
	// in placements to its given position, leaving mode and rotation
	// untouched.
	Apply(ctx context.Context, w, h int, placements []Placement) error

	// Events returns a channel of backend-observed changes. It is
	// closed when the backend is closed.
	Events() <-chan Change

	// Close releases any resources (connections, event loops) the
	// backend holds.
	Close() error
}
