package display

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxdeepin/layoutd/backend"
	"github.com/linuxdeepin/layoutd/layout"
	"github.com/linuxdeepin/layoutd/store"
)

type fakeBackend struct {
	bounds  layout.Bounds
	applied []backend.Placement
	applyW  int
	applyH  int
	err     error
}

func (f *fakeBackend) Outputs(ctx context.Context) ([]backend.Output, error) { return nil, nil }
func (f *fakeBackend) VirtualScreenBounds(ctx context.Context) (layout.Bounds, error) {
	return f.bounds, nil
}
func (f *fakeBackend) Apply(ctx context.Context, w, h int, placements []backend.Placement) error {
	if f.err != nil {
		return f.err
	}
	f.applyW, f.applyH = w, h
	f.applied = placements
	return nil
}
func (f *fakeBackend) Events() <-chan backend.Change { return nil }
func (f *fakeBackend) Close() error                  { return nil }

func newTestStore(t *testing.T) *store.Store {
	s, err := store.OpenAt(filepath.Join(t.TempDir(), "arrangements.json"))
	require.NoError(t, err)
	return s
}

func twoOutputs() []backend.Output {
	return []backend.Output{
		{ID: 1, Name: "eDP-1", Size: layout.Size{W: 1920, H: 1080}},
		{ID: 2, Name: "HDMI-1", Size: layout.Size{W: 1920, H: 1080}},
	}
}

func Test_ReconcileWithNoStoredArrangementComputesAndPersists(t *testing.T) {
	fb := &fakeBackend{bounds: layout.Bounds{WMax: 8192, HMax: 8192}}
	s := newTestStore(t)
	m := NewManager(fb, s, nil)

	err := m.reconcile(context.Background(), twoOutputs())
	require.NoError(t, err)

	assert.Len(t, fb.applied, 2)
	assert.NotNil(t, m.lastApplied)

	fp := fingerprintOf(twoOutputs())
	_, ok := s.Load(fp)
	assert.True(t, ok, "a freshly computed arrangement should be persisted")
}

func Test_ReconcileWithStoredArrangementRecallsWithoutRecomputing(t *testing.T) {
	fb := &fakeBackend{bounds: layout.Bounds{WMax: 8192, HMax: 8192}}
	s := newTestStore(t)
	m := NewManager(fb, s, nil)

	outputs := twoOutputs()
	fp := fingerprintOf(outputs)
	want := store.StoredArrangement{
		W: 3840, H: 1080,
		Pos: []layout.Pair{{X: 0, Y: 0}, {X: 1920, Y: 0}},
	}
	require.NoError(t, s.Save(fp, want))

	err := m.reconcile(context.Background(), outputs)
	require.NoError(t, err)

	assert.Equal(t, 3840, fb.applyW)
	assert.Equal(t, 1080, fb.applyH)
	require.Len(t, fb.applied, 2)
	assert.Equal(t, layout.Pair{X: 0, Y: 0}, fb.applied[0].Pos)
	assert.Equal(t, layout.Pair{X: 1920, Y: 0}, fb.applied[1].Pos)
}

func Test_ReconcileLeavesCurrentManualArrangementAlone(t *testing.T) {
	fb := &fakeBackend{bounds: layout.Bounds{WMax: 8192, HMax: 8192}}
	s := newTestStore(t)
	m := NewManager(fb, s, nil)

	outputs := twoOutputs()
	outputs[0].Enabled, outputs[1].Enabled = true, true
	outputs[0].Pos = layout.Pair{X: 0, Y: 0}
	outputs[1].Pos = layout.Pair{X: 10, Y: 10} // overlaps on both axes

	err := m.reconcile(context.Background(), outputs)
	require.NoError(t, err)

	assert.Nil(t, fb.applied, "a manually-arranged, unsupported current layout must not be touched")
	fp := fingerprintOf(outputs)
	_, ok := s.Load(fp)
	assert.False(t, ok, "reconcile must not persist anything when leaving a manual arrangement alone")
}

func Test_LearnIgnoresSelfInflictedEcho(t *testing.T) {
	fb := &fakeBackend{bounds: layout.Bounds{WMax: 8192, HMax: 8192}}
	s := newTestStore(t)
	m := NewManager(fb, s, nil)

	outputs := twoOutputs()
	outputs[0].Pos = layout.Pair{X: 0, Y: 0}
	outputs[1].Pos = layout.Pair{X: 1920, Y: 0}
	m.lastApplied = &layout.Arrangement{W: 3840, H: 1080, Pos: []layout.Pair{{X: 0, Y: 0}, {X: 1920, Y: 0}}}

	err := m.learn(context.Background(), outputs)
	require.NoError(t, err)

	fp := fingerprintOf(outputs)
	_, ok := s.Load(fp)
	assert.False(t, ok, "a self-inflicted echo must not be learned")
}

func Test_LearnCanonicalizesAGenuineManualMove(t *testing.T) {
	fb := &fakeBackend{bounds: layout.Bounds{WMax: 8192, HMax: 8192}}
	s := newTestStore(t)
	m := NewManager(fb, s, nil)

	outputs := twoOutputs()
	outputs[0].Pos = layout.Pair{X: 0, Y: 0}
	outputs[1].Pos = layout.Pair{X: 1920, Y: 40}

	err := m.learn(context.Background(), outputs)
	require.NoError(t, err)

	fp := fingerprintOf(outputs)
	got, ok := s.Load(fp)
	require.True(t, ok, "a genuine manual move should be learned")
	assert.Len(t, got.Pos, 2)
	assert.Nil(t, fb.applied, "learn must never reapply to the backend")
}

func Test_LearnSkipsUnsupportedOverlappingArrangement(t *testing.T) {
	fb := &fakeBackend{bounds: layout.Bounds{WMax: 8192, HMax: 8192}}
	s := newTestStore(t)
	m := NewManager(fb, s, nil)

	outputs := twoOutputs()
	outputs[0].Pos = layout.Pair{X: 0, Y: 0}
	outputs[1].Pos = layout.Pair{X: 10, Y: 10} // overlaps on both axes

	err := m.learn(context.Background(), outputs)
	require.NoError(t, err)

	fp := fingerprintOf(outputs)
	_, ok := s.Load(fp)
	assert.False(t, ok, "an unsupported overlapping arrangement must not be persisted")
}
