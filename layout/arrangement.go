package layout

// Arrangement is the layout engine's output (§3, §6): a virtual-screen
// size and one position per display, indexed the same way as the input
// size list. It carries no mode, rotation or primary-output information;
// those are chosen by the collaborator, not the core.
type Arrangement struct {
	W, H int
	Pos  []Pair
}

// Equal reports whether a and o describe the same virtual-screen size and
// the same position for every display, in order. The supervisor uses this
// to suppress the feedback loop after applying an arrangement it just
// computed: if the backend reports back exactly what was applied, the
// resulting change event is self-inflicted and should not trigger a
// re-learn.
func (a *Arrangement) Equal(o *Arrangement) bool {
	if a == nil || o == nil {
		return a == o
	}
	if a.W != o.W || a.H != o.H || len(a.Pos) != len(o.Pos) {
		return false
	}
	for k := range a.Pos {
		if a.Pos[k] != o.Pos[k] {
			return false
		}
	}
	return true
}

// NormalizeResult is the outcome of NormalizePositions: either a
// constraint matrix describing the observed layout, or Unsupported set
// when the positions cannot be expressed in the relational model.
type NormalizeResult struct {
	Constraints ConstraintMatrix
	Unsupported bool
}

// NormalizePositions implements §4.5 point 1: it turns an absolute
// arrangement observed from the backend into the relational model the
// core consumes, so a manually-edited layout can be re-learned. For each
// unordered pair it computes both axis separations; a pair that overlaps
// on both axes makes the whole arrangement unsupported (overlap, mirror,
// or clone), since no Direction can express it. Otherwise the pair is
// assigned the axis it is separated on, preferring the larger absolute
// gap when separated on both, with X preferred on an exact tie. Before
// returning a result, it also requires the induced relation graph to be
// a single connected component: a derived matrix that leaves any display
// unrelated to the rest is unsupported too.
func NormalizePositions(sizes []Size, pos []Pair) NormalizeResult {
	n := len(sizes)
	c := NewConstraintMatrix(n)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			dir, ok := pairDirection(sizes[a], pos[a], sizes[b], pos[b])
			if !ok {
				return NormalizeResult{Unsupported: true}
			}
			c.Set(a, b, dir)
		}
	}
	if !isSingleConnectedComponent(c, n) {
		return NormalizeResult{Unsupported: true}
	}
	return NormalizeResult{Constraints: c}
}

// isSingleConnectedComponent reports whether every display in c is
// reachable from every other through a chain of non-none relations, via
// a union-find over the non-none relation pairs. A relation matrix that relates
// two separate clusters of displays to each other but not across
// clusters describes a scene with no single well-defined layout.
func isSingleConnectedComponent(c ConstraintMatrix, n int) bool {
	representative := make([]int, n)
	for i := range representative {
		representative[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for representative[i] != i {
			i = representative[i]
		}
		return i
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if c[i][j] == None {
				continue
			}
			ri, rj := find(i), find(j)
			if ri > rj {
				ri, rj = rj, ri
			}
			representative[rj] = ri
		}
	}
	root := find(0)
	for i := 1; i < n; i++ {
		if find(i) != root {
			return false
		}
	}
	return true
}

// pairDirection computes the Direction of a with respect to b, or ok=false
// if the two rectangles overlap on both axes.
func pairDirection(sa Size, pa Pair, sb Size, pb Pair) (Direction, bool) {
	xGap, xAPrecedes, xSep := separation(pa.X, sa.W, pb.X, sb.W)
	yGap, yAPrecedes, ySep := separation(pa.Y, sa.H, pb.Y, sb.H)

	switch {
	case !xSep && !ySep:
		return None, false
	case xSep && !ySep:
		return axisDirection(xAPrecedes, Left, Right), true
	case !xSep && ySep:
		return axisDirection(yAPrecedes, Above, Below), true
	default:
		// Separated on both axes: prefer the larger absolute gap,
		// X on an exact tie.
		if absInt(xGap) >= absInt(yGap) {
			return axisDirection(xAPrecedes, Left, Right), true
		}
		return axisDirection(yAPrecedes, Above, Below), true
	}
}

// separation returns the absolute gap between the preceding interval's
// trailing edge and the following one's leading edge on one axis, which
// side precedes the other (aPrecedes:
// true when a ends at or before b starts, false when b ends at or before
// a starts), and whether the two intervals are disjoint on this axis at
// all. A zero gap (an exact touch) still has a well-defined precedes
// side, unlike a signed gap's sign at zero.
func separation(aPos, aSize, bPos, bSize int) (gap int, aPrecedes bool, separated bool) {
	aEnd := aPos + aSize
	bEnd := bPos + bSize
	if aEnd <= bPos {
		return bPos - aEnd, true, true
	}
	if bEnd <= aPos {
		return aPos - bEnd, false, true
	}
	return 0, false, false
}

// axisDirection maps which side precedes to the "a precedes b" or
// "b precedes a" direction for one axis.
func axisDirection(aPrecedes bool, precedes, follows Direction) Direction {
	if aPrecedes {
		return precedes
	}
	return follows
}

// ToBackendArrangement implements §4.5 point 2: a solved packing, already
// in the Arrangement shape, is returned as-is — the conversion is a
// straight pass-through, since the core's output already matches the
// backend's expected coordinate model.
func ToBackendArrangement(w, h int, pos []Pair) *Arrangement {
	return &Arrangement{W: w, H: h, Pos: pos}
}
