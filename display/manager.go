// Package display is the supervisor that drives the layout engine from a
// live backend: it reconciles hotplug events against stored or freshly
// computed arrangements, and learns from manual reconfiguration events
// that did not originate from its own Apply calls.
package display

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/linuxdeepin/go-lib/log"
	"golang.org/x/xerrors"

	"github.com/linuxdeepin/layoutd/backend"
	"github.com/linuxdeepin/layoutd/layout"
	"github.com/linuxdeepin/layoutd/store"
)

var logger = log.NewLogger("layoutd/display")

const (
	dbusPath      = "/com/deepin/daemon/Layout"
	dbusInterface = "com.deepin.daemon.Layout"

	// eventHandleDelay coalesces the burst of RandR events a single
	// physical hotplug or drag tends to produce into one handled change,
	// the same constant the teacher's own event_handler.go used for the
	// same reason.
	eventHandleDelay = 500 * time.Millisecond
)

// Manager is the state machine described in SPEC_FULL.md §5.3. It owns no
// geometry of its own: every decision it makes is a call into layout or
// store, with the backend supplying the only I/O.
type Manager struct {
	backend backend.Backend
	store   *store.Store
	sysBus  *dbus.Conn // optional; nil disables ArrangementChanged signals

	lastApplied *layout.Arrangement
}

// NewManager wires a backend and a store together. sysBus may be nil, in
// which case ArrangementChanged is never emitted.
func NewManager(b backend.Backend, s *store.Store, sysBus *dbus.Conn) *Manager {
	return &Manager{backend: b, store: s, sysBus: sysBus}
}

// Run consumes backend events until ctx is done or the backend's event
// channel closes. Events are debounced by eventHandleDelay: a burst of
// events arriving within the delay of each other collapses into a single
// handled change, using whichever change arrived last.
func (m *Manager) Run(ctx context.Context) error {
	var timer *time.Timer
	var pending *backend.Change
	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-m.backend.Events():
			if !ok {
				return nil
			}
			pending = &change
			if timer == nil {
				timer = time.NewTimer(eventHandleDelay)
			} else {
				timer.Reset(eventHandleDelay)
			}
		case <-timerC:
			if pending != nil {
				m.handleChange(ctx, *pending)
				pending = nil
			}
			timer = nil
		}
	}
}

func (m *Manager) handleChange(ctx context.Context, change backend.Change) {
	switch change.Kind {
	case backend.Hotplug:
		if err := m.reconcile(ctx, change.Outputs); err != nil {
			logger.Warning("display: reconciling hotplug:", err)
		}
	case backend.ManualReconfigure:
		if err := m.learn(ctx, change.Outputs); err != nil {
			logger.Warning("display: learning manual reconfiguration:", err)
		}
	default:
		logger.Debug("display: ignoring change kind", change.Kind)
	}
}

// reconcile implements the hotplug half of §5.3: recall a stored
// arrangement for this exact display set when one exists, otherwise
// compute a fresh one and persist it, then apply either to the backend.
// It first checks currentIsManual, the same way learn does for a
// reconfiguration event: a hotplug notification can still fire while the
// outputs that are already enabled sit in a manually-arranged,
// unsupported layout (disabled outputs aside, an overlap or a mirrored
// pair), and relaying out in that situation would clobber it.
func (m *Manager) reconcile(ctx context.Context, outputs []backend.Output) error {
	if len(outputs) == 0 {
		return nil
	}
	if m.currentIsManual(outputs) {
		logger.Debug("display: current arrangement is manual, leaving outputs alone")
		return nil
	}
	fp := fingerprintOf(outputs)
	sizes := sizesOf(outputs)

	if stored, ok := m.store.Load(fp); ok && len(stored.Pos) == len(outputs) {
		arr := &layout.Arrangement{W: stored.W, H: stored.H, Pos: stored.Pos}
		return m.apply(ctx, outputs, arr, fp, false)
	}

	b, err := m.backend.VirtualScreenBounds(ctx)
	if err != nil {
		return xerrors.Errorf("display: reading virtual screen bounds: %w", err)
	}
	constraints := layout.NewConstraintMatrix(len(sizes))
	arr, err := layout.ComputeLayout(ctx, b, sizes, constraints)
	if err != nil {
		return xerrors.Errorf("display: computing layout for %s: %w", fp, err)
	}
	if err := m.persist(fp, outputs, arr); err != nil {
		return err
	}
	return m.apply(ctx, outputs, arr, fp, true)
}

// learn implements the manual-reconfiguration half of §5.3. A change that
// exactly matches the arrangement this manager most recently applied is
// self-inflicted feedback and is ignored. Otherwise the observed layout
// is normalized back into relational constraints and canonicalized
// through the same solver a hotplug would use, then persisted — but
// never reapplied, so a display the user just dragged does not jump back
// under them.
func (m *Manager) learn(ctx context.Context, outputs []backend.Output) error {
	observed := arrangementOf(outputs)
	if m.lastApplied != nil && m.lastApplied.Equal(observed) {
		return nil
	}

	sizes := sizesOf(outputs)
	result := layout.NormalizePositions(sizes, observed.Pos)
	if result.Unsupported {
		// Same rejection currentIsManual checks for on the hotplug path:
		// overlap, a mirrored pair, or a disconnected relation graph.
		logger.Debug("display: manual arrangement is unsupported, keeping prior stored entry")
		return nil
	}

	b, err := m.backend.VirtualScreenBounds(ctx)
	if err != nil {
		return xerrors.Errorf("display: reading virtual screen bounds: %w", err)
	}
	canonical, err := layout.ComputeLayout(ctx, b, sizes, result.Constraints)
	if err != nil {
		logger.Debug("display: manual arrangement has no canonical layout, leaving store untouched:", err)
		return nil
	}

	fp := fingerprintOf(outputs)
	return m.persist(fp, outputs, canonical)
}

// currentIsManual reports whether the outputs' current positions cannot
// be abstracted into a relational layout (§4 item 2, `slam.ConcreteLayout
// .manual()`): an overlap, a mirrored pair, or any other arrangement
// NormalizePositions rejects. An output with no active crtc yet has no
// current position worth judging — there is no current arrangement at
// all until every output has one, so the check is skipped in that case
// and reconcile proceeds to lay them out.
func (m *Manager) currentIsManual(outputs []backend.Output) bool {
	for _, o := range outputs {
		if !o.Enabled {
			return false
		}
	}
	observed := arrangementOf(outputs)
	result := layout.NormalizePositions(sizesOf(outputs), observed.Pos)
	return result.Unsupported
}

func (m *Manager) persist(fp string, outputs []backend.Output, arr *layout.Arrangement) error {
	modes := make([]store.MonitorMode, len(outputs))
	for k, o := range outputs {
		modes[k] = store.MonitorMode{Width: o.ModeWidth, Height: o.ModeHeight, RefreshRate: o.RefreshHz, Rotation: o.Rotation}
	}
	primary := -1
	for k, o := range outputs {
		if o.Primary {
			primary = k
			break
		}
	}
	stored := store.StoredArrangement{W: arr.W, H: arr.H, Pos: arr.Pos, Modes: modes, Primary: primary}
	if err := m.store.Save(fp, stored); err != nil {
		return xerrors.Errorf("display: persisting arrangement for %s: %w", fp, err)
	}
	return nil
}

func (m *Manager) apply(ctx context.Context, outputs []backend.Output, arr *layout.Arrangement, fp string, justComputed bool) error {
	placements := make([]backend.Placement, len(outputs))
	for k, o := range outputs {
		placements[k] = backend.Placement{ID: o.ID, Pos: arr.Pos[k]}
	}
	if err := m.backend.Apply(ctx, arr.W, arr.H, placements); err != nil {
		return xerrors.Errorf("display: applying arrangement for %s: %w", fp, err)
	}
	m.lastApplied = arr
	m.emitArrangementChanged(fp)
	if justComputed {
		logger.Debugf("display: computed and applied a fresh arrangement for %s", fp)
	} else {
		logger.Debugf("display: recalled and applied a stored arrangement for %s", fp)
	}
	return nil
}

// emitArrangementChanged tells session components that the virtual
// screen layout changed, the same way the daemon this one descends from
// emits its own rotation-finished signal directly on its bus connection
// rather than through generated per-service stubs.
func (m *Manager) emitArrangementChanged(fingerprint string) {
	if m.sysBus == nil {
		return
	}
	err := m.sysBus.Emit(dbus.ObjectPath(dbusPath), dbusInterface+".ArrangementChanged", fingerprint)
	if err != nil {
		logger.Warning("display: emitting ArrangementChanged:", err)
	}
}

func fingerprintOf(outputs []backend.Output) string {
	idents := make([]string, len(outputs))
	for k, o := range outputs {
		idents[k] = o.Fingerprint()
	}
	return store.Fingerprint(idents)
}

func sizesOf(outputs []backend.Output) []layout.Size {
	sizes := make([]layout.Size, len(outputs))
	for k, o := range outputs {
		sizes[k] = o.Size
	}
	return sizes
}

func arrangementOf(outputs []backend.Output) *layout.Arrangement {
	pos := make([]layout.Pair, len(outputs))
	w, h := 0, 0
	for k, o := range outputs {
		pos[k] = o.Pos
		if right := o.Pos.X + o.Size.W; right > w {
			w = right
		}
		if bottom := o.Pos.Y + o.Size.H; bottom > h {
			h = bottom
		}
	}
	return &layout.Arrangement{W: w, H: h, Pos: pos}
}
