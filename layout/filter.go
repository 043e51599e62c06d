package layout

// accepts reports whether template's induced topology agrees with every
// user-pinned relation in c, per §4.2: for every unordered pair (a, b)
// with a < b, either C[a][b] == None, or it equals the direction the
// template induces between them.
//
// Filtering is cheap relative to a packer solve, so it is run first to
// cut the (n!)^2 enumeration down to the templates whose topology could
// possibly satisfy the user's constraints.
func accepts(t *Template, c ConstraintMatrix, n int) bool {
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			want := c[a][b]
			if want == None {
				continue
			}
			if want != t.Ordering(a, b) {
				return false
			}
		}
	}
	return true
}
