package layout

import (
	"context"
	"fmt"
)

// Bounds are the virtual-screen limits a solved arrangement must respect.
// A zero HMin/WMin means "no minimum".
type Bounds struct {
	WMin, WMax int
	HMin, HMax int
}

// ComputeLayout is the core's single entry point (§6). Given the virtual-
// screen bounds, a list of display sizes, and a constraint matrix
// (symmetric under inversion, C[i][i] == None), it searches every
// sequence-pair template, discards the ones that contradict a user-pinned
// relation, packs the rest, and returns the best-scoring arrangement.
//
// It returns ErrNoLayout (with a nil *Arrangement) when every template was
// either filter-rejected or packer-infeasible — a normal result, not a
// fault. It returns a wrapped ErrInvalidInput when the inputs violate a
// precondition from §7, without attempting any search.
func ComputeLayout(ctx context.Context, b Bounds, sizes []Size, constraints ConstraintMatrix) (*Arrangement, error) {
	best, err := computeBestPacking(ctx, b, sizes, constraints)
	if err != nil {
		return nil, err
	}
	return &Arrangement{W: best.w, H: best.h, Pos: best.pos}, nil
}

// computeBestPacking is ComputeLayout's search, kept separate so the
// internal objective (never part of the core's external output, §6) is
// reachable from within the package for property tests that need to
// compare two searches' objectives directly (§8 invariant 4).
func computeBestPacking(ctx context.Context, b Bounds, sizes []Size, constraints ConstraintMatrix) (*packing, error) {
	if err := validateInputs(b, sizes, constraints); err != nil {
		return nil, err
	}
	n := len(sizes)
	pb := bounds{wMin: b.WMin, wMax: b.WMax, hMin: b.HMin, hMax: b.HMax}

	var best *packing
	t := NewTemplate(n)
	for {
		if accepts(t, constraints, n) {
			p, ok, err := solveLexMin(ctx, sizes, pb, t)
			if err != nil {
				return nil, fmt.Errorf("layout: solver error: %w", err)
			}
			if ok && better(p, best) {
				best = p
			}
		}
		if !t.Next() {
			break
		}
	}

	if best == nil {
		return nil, ErrNoLayout
	}
	return best, nil
}

// better implements §4.4's outer tie-break: lower objective wins; equal
// objective falls through to a lexicographically smaller (W, H).
func better(candidate, best *packing) bool {
	if best == nil {
		return true
	}
	if candidate.objective != best.objective {
		return candidate.objective < best.objective
	}
	if candidate.w != best.w {
		return candidate.w < best.w
	}
	return candidate.h < best.h
}

func validateInputs(b Bounds, sizes []Size, constraints ConstraintMatrix) error {
	n := len(sizes)
	if n <= 0 {
		return fmt.Errorf("%w: n must be positive, got %d", ErrInvalidInput, n)
	}
	for k, s := range sizes {
		if s.W <= 0 || s.H <= 0 {
			return fmt.Errorf("%w: display %d has non-positive size %dx%d", ErrInvalidInput, k, s.W, s.H)
		}
	}
	if b.WMin > b.WMax {
		return fmt.Errorf("%w: WMin %d > WMax %d", ErrInvalidInput, b.WMin, b.WMax)
	}
	if b.HMin > b.HMax {
		return fmt.Errorf("%w: HMin %d > HMax %d", ErrInvalidInput, b.HMin, b.HMax)
	}
	if b.WMin < 0 || b.HMin < 0 {
		return fmt.Errorf("%w: bounds must be non-negative", ErrInvalidInput)
	}
	if err := constraints.validate(n); err != nil {
		return err
	}
	return nil
}
