package ir

// MLS is an ordered sequence of HLIs forming one MI's body, before
// register allocation.
type MLS struct {
	Instrs []HLI
}

// LLS is the register-level counterpart of MLS: an ordered sequence
// of LLIs forming one MI's body, after register allocation.
type LLS struct {
	Instrs []LLI
}

// Defs returns the set of Mem operands defined by seq, keyed by
// Operand so callers get contents-based set semantics for free.
func (s MLS) Defs() map[Operand]bool {
	defs := make(map[Operand]bool, len(s.Instrs))
	for _, instr := range s.Instrs {
		defs[instr.Dst] = true
	}
	return defs
}

// Uses returns the Mem operands used by seq but not defined by it
// (uses = operands-of-kind-Mem used − defs).
func (s MLS) Uses() map[Operand]bool {
	defs := s.Defs()
	used := make(map[Operand]bool)
	for _, instr := range s.Instrs {
		for _, m := range instr.MemInputs() {
			if !defs[m] {
				used[m] = true
			}
		}
	}
	return used
}

// Clone returns a shallow copy of the sequence's instruction slice,
// safe to mutate independently of the original.
func (s MLS) Clone() MLS {
	out := make([]HLI, len(s.Instrs))
	copy(out, s.Instrs)
	return MLS{Instrs: out}
}
