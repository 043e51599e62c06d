package layout

import "errors"

// ErrInvalidInput is returned (wrapped with details via fmt.Errorf) when
// compute_layout's preconditions are violated: n <= 0, a malformed
// constraint matrix, a non-positive display size, or inverted bounds.
// Callers are expected to validate before calling; this is a precondition
// failure, not a runtime fault.
var ErrInvalidInput = errors.New("layout: invalid input")

// ErrNoLayout is the sentinel returned when every template was either
// rejected by the constraint filter or found infeasible by the packer.
// It is a normal result, not an error condition, and is always returned
// together with a nil *Arrangement.
var ErrNoLayout = errors.New("layout: no layout found")
