package routing

// Optimize drops identity PublicShuffle rows to a fixpoint; a sink
// wired straight through costs nothing and should never be emitted.
func Optimize(program Program) Program {
	for {
		changed := false
		var out Program
		for _, row := range program {
			if ps, ok := row.(PublicShuffle); ok && ps.IsIdentity() {
				changed = true
				continue
			}
			out = append(out, row)
		}
		program = out
		if !changed {
			return program
		}
	}
}

// CanonicalRun is a reference (non-MI-grouped) interpreter over a
// routing Program: it starts from the identity of size 2^m and applies
// every row in order, for use as a correctness oracle in tests.
func CanonicalRun(program Program, m int) []int {
	ff := identity(1 << uint(m))
	for _, row := range program {
		switch r := row.(type) {
		case PublicShuffle:
			ff = r.Apply(ff)
		case SecretShuffles:
			for _, pair := range r {
				off := pair.Offset
				n := pair.Perm.N()
				sub := append([]int(nil), ff[off:off+n]...)
				sub = pair.Perm.Apply(sub)
				copy(ff[off:off+n], sub)
			}
		}
	}
	return ff
}
