package layout

import (
	"context"
	"fmt"

	"github.com/gitrdm/gokanlogic/pkg/minikanren"
)

// The packer (§4.3) turns a template into an integer linear system and
// hands it to a finite-domain constraint solver (gokanlogic's
// branch-and-bound, pkg/minikanren) rather than the historical polyhedral
// library: one FDVariable per packing coordinate/auxiliary, Inequality
// and Arithmetic constraints for the ordering and bounding inequalities,
// and a LinearSum tying the objective variable to the gap/center-distance
// terms it is built from.
//
// gokanlogic domains hold 1-indexed positive integers in [1, MaxValue].
// Every variable that stands for a non-negative "real" quantity (a
// coordinate, a size-derived bound, a gap, a center distance) is stored
// as real+1 so that a real value of 0 is representable. Variables that
// stand for a quantity that can be negative before it is known to be
// bounded (the signed center-to-center distance used to build the two
// absolute-value inequalities of §4.3 point 4) are stored with a large
// fixed bias instead; see centerDiff below.
//
// The objective enters every solve already scaled by a constant factor
// of 2 (centers are carried as 2*corner+size to avoid integer division
// when a size is odd) and offset by a constant that depends only on n,
// not on the template. Both transformations are affine and
// template-invariant for a fixed n, so comparing these internal
// objective values across templates of the same input is equivalent to
// comparing the values the specification's literal formula would
// produce; the true objective is never part of the core's external
// output (§6), so it is never decoded back out.

type bounds struct {
	wMin, wMax, hMin, hMax int
}

// packing is the packer's result for one template: the chosen O
// (internal units, see above), virtual-screen size, and per-display
// positions, already in real (non-offset) coordinates, indexed by
// display.
type packing struct {
	objective int
	w, h      int
	pos       []Pair
}

// domainScale picks a single domain ceiling generous enough to hold any
// coordinate, size, gap, or doubled-center value the model can produce.
func domainScale(b bounds) int {
	m := b.wMax
	if b.hMax > m {
		m = b.hMax
	}
	if m < 1 {
		m = 1
	}
	return m + 4
}

// packModel is the reusable state built once per (template, fixed-prefix)
// attempt; solveLexMin rebuilds it from scratch for every step of the
// sequential lexicographic minimization described below, since the
// underlying Model is meant to be constructed once and solved, not
// mutated between solves.
type packModel struct {
	model *minikanren.Model
	O     *minikanren.FDVariable
	H, W  *minikanren.FDVariable
	y, x  []*minikanren.FDVariable
}

// fixedPrefix pins a prefix of the lexicographic priority chain
// (O, H, W, y_0, ..., y_{n-1}, x_0, ..., x_{n-1}) to already-known real values, by
// restricting the corresponding variable to a singleton domain at model
// construction time.
type fixedPrefix struct {
	hasO, hasH, hasW bool
	o, h, w          int
	y, x             []int // len == n, valid entries marked in yKnown/xKnown
	yKnown, xKnown   []bool
}

func newFixedPrefix(n int) fixedPrefix {
	return fixedPrefix{
		y: make([]int, n), yKnown: make([]bool, n),
		x: make([]int, n), xKnown: make([]bool, n),
	}
}

// buildPackModel constructs a fresh Model encoding one template's
// feasible packings, applying any values already fixed by a previous
// lexicographic minimization step.
func buildPackModel(sizes []Size, b bounds, t *Template, fixed fixedPrefix) (*packModel, error) {
	n := len(sizes)
	scale := domainScale(b)
	domainMax := scale
	// signedDoubledCenterDiff's real value ranges over roughly (-3*scale,
	// 3*scale) (doubled centers of two sizes each within [0, scale] can
	// differ by up to ~3*scale in either direction), so bias must clear
	// 3*scale with margin to keep every stored value >= 1.
	bias := 4 * scale
	biasDomainMax := 8*scale + 16

	model := minikanren.NewModel()

	mkPos := func(lo, hi int) *minikanren.FDVariable {
		dom := minikanren.NewBitSetDomain(domainMax).RemoveBelow(lo + 1).RemoveAbove(hi + 1)
		return model.NewVariable(dom)
	}
	mkPosFixed := func(val int) *minikanren.FDVariable {
		dom := minikanren.NewBitSetDomainFromValues(domainMax, []int{val + 1})
		return model.NewVariable(dom)
	}

	H := mkPos(b.hMin, b.hMax)
	if fixed.hasH {
		H = mkPosFixed(fixed.h)
	}
	W := mkPos(b.wMin, b.wMax)
	if fixed.hasW {
		W = mkPosFixed(fixed.w)
	}

	y := make([]*minikanren.FDVariable, n)
	x := make([]*minikanren.FDVariable, n)
	for k := 0; k < n; k++ {
		if fixed.yKnown[k] {
			y[k] = mkPosFixed(fixed.y[k])
		} else {
			y[k] = mkPos(0, b.hMax)
		}
		if fixed.xKnown[k] {
			x[k] = mkPosFixed(fixed.x[k])
		} else {
			x[k] = mkPos(0, b.wMax)
		}
	}

	// Inside virtual screen: x_k + w_k <= W, y_k + h_k <= H.
	for k := 0; k < n; k++ {
		if err := lessEqualOffset(model, x[k], W, sizes[k].W); err != nil {
			return nil, err
		}
		if err := lessEqualOffset(model, y[k], H, sizes[k].H); err != nil {
			return nil, err
		}
	}

	// Per unordered pair: one ordering inequality and one auxiliary
	// objective contribution (gap + center-distance linearization).
	var gapVars []*minikanren.FDVariable
	var mVars []*minikanren.FDVariable
	for a := 0; a < n; a++ {
		for c := a + 1; c < n; c++ {
			dir := t.Ordering(a, c)
			var near, far *minikanren.FDVariable
			var nearSize int
			var orthNear, orthFar *minikanren.FDVariable
			var orthNearSize, orthFarSize int
			switch dir {
			case Left:
				near, nearSize = x[a], sizes[a].W
				far = x[c]
				orthNear, orthNearSize = y[a], sizes[a].H
				orthFar, orthFarSize = y[c], sizes[c].H
			case Right:
				near, nearSize = x[c], sizes[c].W
				far = x[a]
				orthNear, orthNearSize = y[c], sizes[c].H
				orthFar, orthFarSize = y[a], sizes[a].H
			case Above:
				near, nearSize = y[a], sizes[a].H
				far = y[c]
				orthNear, orthNearSize = x[a], sizes[a].W
				orthFar, orthFarSize = x[c], sizes[c].W
			case Below:
				near, nearSize = y[c], sizes[c].H
				far = y[a]
				orthNear, orthNearSize = x[c], sizes[c].W
				orthFar, orthFarSize = x[a], sizes[a].W
			default:
				return nil, fmt.Errorf("layout: template produced no ordering for (%d,%d)", a, c)
			}

			if err := lessEqualOffset(model, near, far, nearSize); err != nil {
				return nil, err
			}

			gap, err := diffVar(model, far, near, nearSize, domainMax)
			if err != nil {
				return nil, err
			}
			gapVars = append(gapVars, gap)

			m, err := centerDistanceVar(model, orthFar, orthFarSize, orthNear, orthNearSize, domainMax, biasDomainMax, bias)
			if err != nil {
				return nil, err
			}
			mVars = append(mVars, m)
		}
	}

	// O = 2*sum(gap) + sum(M)  (see package doc: scaled & offset, both
	// constants are template-invariant for fixed n).
	terms := append(append([]*minikanren.FDVariable{}, gapVars...), mVars...)
	coeffs := make([]int, len(terms))
	for i := range gapVars {
		coeffs[i] = 2
	}
	for i := len(gapVars); i < len(terms); i++ {
		coeffs[i] = 1
	}
	oDomainMax := domainMax * 2 * (len(terms) + 1)
	if oDomainMax < domainMax {
		oDomainMax = domainMax
	}
	O := model.NewVariable(minikanren.NewBitSetDomain(oDomainMax))
	if fixed.hasO {
		O = model.NewVariable(minikanren.NewBitSetDomainFromValues(oDomainMax, []int{fixed.o}))
	}
	if len(terms) > 0 {
		ls, err := minikanren.NewLinearSum(terms, coeffs, O)
		if err != nil {
			return nil, err
		}
		model.AddConstraint(ls)
	}

	return &packModel{model: model, O: O, H: H, W: W, y: y, x: x}, nil
}

// lessEqualOffset posts the constraint real(p) + c <= real(q). Because
// every position-like variable is stored as real+1, this is equivalent
// to the literal stored inequality p+c <= q, built as an Arithmetic shift
// followed by an Inequality.
//
// The Arithmetic shift is always applied with a non-negative offset, on
// whichever side keeps it that way (shift p up by c when c >= 0, or shift
// q up by -c when c < 0); gokanlogic domains cannot hold a value below 1,
// so shifting by a negative offset would silently empty the domain of
// any operand sitting near its lower bound.
func lessEqualOffset(model *minikanren.Model, p, q *minikanren.FDVariable, c int) error {
	if c == 0 {
		ineq, err := minikanren.NewInequality(p, q, minikanren.LessEqual)
		if err != nil {
			return err
		}
		model.AddConstraint(ineq)
		return nil
	}
	if c > 0 {
		// p + c <= q: shift p up by c, then compare directly.
		shifted := model.NewVariable(minikanren.NewBitSetDomain(p.Domain().MaxValue() + c))
		ar, err := minikanren.NewArithmetic(p, shifted, c)
		if err != nil {
			return err
		}
		model.AddConstraint(ar)
		ineq, err := minikanren.NewInequality(shifted, q, minikanren.LessEqual)
		if err != nil {
			return err
		}
		model.AddConstraint(ineq)
		return nil
	}
	// c < 0: p + c <= q  <=>  p <= q + |c|: shift q up by |c| instead.
	shifted := model.NewVariable(minikanren.NewBitSetDomain(q.Domain().MaxValue() - c))
	ar, err := minikanren.NewArithmetic(q, shifted, -c)
	if err != nil {
		return err
	}
	model.AddConstraint(ar)
	ineq, err := minikanren.NewInequality(p, shifted, minikanren.LessEqual)
	if err != nil {
		return err
	}
	model.AddConstraint(ineq)
	return nil
}

// diffVar returns a new variable representing real(far) - real(near) - c,
// which the caller must already have constrained to be non-negative (via
// lessEqualOffset(near, far, c)) so that the +1 position-like convention
// stays valid.
func diffVar(model *minikanren.Model, far, near *minikanren.FDVariable, c, domainMax int) (*minikanren.FDVariable, error) {
	shiftedNear := near
	if c != 1 {
		dom := minikanren.NewBitSetDomain(near.Domain().MaxValue() + absInt(c))
		shiftedNear = model.NewVariable(dom)
		ar, err := minikanren.NewArithmetic(near, shiftedNear, c-1)
		if err != nil {
			return nil, err
		}
		model.AddConstraint(ar)
	}
	result := model.NewVariable(minikanren.NewBitSetDomain(domainMax))
	ls, err := minikanren.NewLinearSum([]*minikanren.FDVariable{far, shiftedNear}, []int{1, -1}, result)
	if err != nil {
		return nil, err
	}
	model.AddConstraint(ls)
	return result, nil
}

// centerDistanceVar implements §4.3 point 4: introduces M >= 0 together
// with the two inequalities that force M == |doubled center of (far
// side) - doubled center of (near side)| at the optimum, since O is
// minimized and M enters it with a positive coefficient. Centers are
// carried doubled (2*corner+size) to avoid integer division.
func centerDistanceVar(model *minikanren.Model, ca *minikanren.FDVariable, sizeA int, cb *minikanren.FDVariable, sizeB int, domainMax, biasDomainMax, bias int) (*minikanren.FDVariable, error) {
	m := model.NewVariable(minikanren.NewBitSetDomain(domainMax * 2))

	d1, err := signedDoubledCenterDiff(model, ca, sizeA, cb, sizeB, biasDomainMax, bias)
	if err != nil {
		return nil, err
	}
	if err := lessEqualOffset(model, d1, m, 1-bias); err != nil {
		return nil, err
	}

	d2, err := signedDoubledCenterDiff(model, cb, sizeB, ca, sizeA, biasDomainMax, bias)
	if err != nil {
		return nil, err
	}
	if err := lessEqualOffset(model, d2, m, 1-bias); err != nil {
		return nil, err
	}
	return m, nil
}

// signedDoubledCenterDiff returns a variable D with
// D_stored = 2*real(ca) + sizeA - 2*real(cb) - sizeB + bias, a value
// that is always representable as a positive domain value regardless of
// which side has the larger center, because bias is chosen large enough
// (see domainScale/centerDistanceVar).
func signedDoubledCenterDiff(model *minikanren.Model, ca *minikanren.FDVariable, sizeA int, cb *minikanren.FDVariable, sizeB int, biasDomainMax, bias int) (*minikanren.FDVariable, error) {
	constVal := bias + sizeA - sizeB
	constVar := model.NewVariable(minikanren.NewBitSetDomainFromValues(biasDomainMax, []int{constVal}))
	d := model.NewVariable(minikanren.NewBitSetDomain(biasDomainMax))
	ls, err := minikanren.NewLinearSum(
		[]*minikanren.FDVariable{ca, cb, constVar},
		[]int{2, -2, 1},
		d,
	)
	if err != nil {
		return nil, err
	}
	model.AddConstraint(ls)
	return d, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// solveLexMin runs the packer's full contract for one template: minimize
// O, then among O-minimizers minimize H, then W, then y_0..y_{n-1}, then
// x_0..x_{n-1}, in that order — the priority chain §4.3 specifies.
//
// Each step is a fresh Model: gokanlogic models are meant to be built
// once and solved, so "fix what's already decided and minimize the next
// priority" is implemented as rebuild-with-an-extra-singleton-domain
// rather than mutating a shared model mid-search.
func solveLexMin(ctx context.Context, sizes []Size, b bounds, t *Template) (*packing, bool, error) {
	n := len(sizes)
	fixed := newFixedPrefix(n)

	pm, err := buildPackModel(sizes, b, t, fixed)
	if err != nil {
		return nil, false, err
	}
	solver := minikanren.NewSolver(pm.model)
	sol, oStar, err := solver.SolveOptimal(ctx, pm.O, true)
	if err != nil {
		return nil, false, err
	}
	if sol == nil {
		return nil, false, nil // infeasible
	}
	fixed.hasO, fixed.o = true, oStar

	minimizeOne := func(pickVar func(pm *packModel) *minikanren.FDVariable, assign func(v int)) error {
		pm, err := buildPackModel(sizes, b, t, fixed)
		if err != nil {
			return err
		}
		solver := minikanren.NewSolver(pm.model)
		s, v, err := solver.SolveOptimal(ctx, pickVar(pm), true)
		if err != nil {
			return err
		}
		if s == nil {
			return fmt.Errorf("layout: lexicographic refinement became infeasible")
		}
		assign(v)
		sol = s
		return nil
	}

	if err := minimizeOne(func(pm *packModel) *minikanren.FDVariable { return pm.H }, func(v int) {
		fixed.hasH, fixed.h = true, v-1
	}); err != nil {
		return nil, false, err
	}
	if err := minimizeOne(func(pm *packModel) *minikanren.FDVariable { return pm.W }, func(v int) {
		fixed.hasW, fixed.w = true, v-1
	}); err != nil {
		return nil, false, err
	}
	for k := 0; k < n; k++ {
		k := k
		if err := minimizeOne(func(pm *packModel) *minikanren.FDVariable { return pm.y[k] }, func(v int) {
			fixed.yKnown[k], fixed.y[k] = true, v-1
		}); err != nil {
			return nil, false, err
		}
	}

	// Every y, H and W are now pinned; minimizing each x_k in display
	// order, one at a time, completes the deterministic point.
	for k := 0; k < n; k++ {
		k := k
		if err := minimizeOne(func(pm *packModel) *minikanren.FDVariable { return pm.x[k] }, func(v int) {
			fixed.xKnown[k], fixed.x[k] = true, v-1
		}); err != nil {
			return nil, false, err
		}
	}
	lastPM, err := buildPackModel(sizes, b, t, fixed)
	if err != nil {
		return nil, false, err
	}
	lastSolver := minikanren.NewSolver(lastPM.model)
	sol, _, err = lastSolver.SolveOptimal(ctx, lastPM.O, true)
	if err != nil {
		return nil, false, err
	}
	if sol == nil {
		return nil, false, fmt.Errorf("layout: lexicographic refinement became infeasible")
	}

	pos := make([]Pair, n)
	for k := 0; k < n; k++ {
		pos[k] = Pair{X: sol[lastPM.x[k].ID()] - 1, Y: sol[lastPM.y[k].ID()] - 1}
	}
	result := &packing{
		objective: oStar,
		w:         sol[lastPM.W.ID()] - 1,
		h:         sol[lastPM.H.ID()] - 1,
		pos:       pos,
	}
	return result, true, nil
}
