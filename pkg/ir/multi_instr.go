package ir

// MLMI is a mid-level multi-instruction: a straight-line HLI body
// plus the ordered lists of Mem it reads (inputs) and writes that
// matter outside the MI (outputs).
//
// Invariants (checked by the DFG and clusterizer, not enforced here
// since intermediate construction states legitimately violate them):
//   - every Mem used as a source in Seq is either in Inputs or
//     defined earlier in Seq.
//   - every Mem in Outputs is either in Inputs (pass-through) or
//     defined in Seq.
//
// MLMI is mutated only by merging (replacement, see pkg/dfg) and by
// universalization (appending instructions/inputs/outputs in place);
// it is otherwise treated as uniquely owned by one DFG at a time.
type MLMI struct {
	Seq     MLS
	Inputs  []Operand
	Outputs []Operand
}

// NewMLMI constructs an MLMI from an HLI: one instruction, its Mem
// sources as inputs (in source order), and its destination as the
// sole output.
func NewMLMI(hli HLI) *MLMI {
	var inputs []Operand
	for _, src := range [3]Operand{hli.Src1, hli.Src2, hli.Src3} {
		if src.IsMem() {
			inputs = append(inputs, src)
		}
	}
	return &MLMI{
		Seq:     MLS{Instrs: []HLI{hli}},
		Inputs:  inputs,
		Outputs: []Operand{hli.Dst},
	}
}

// EmptyMLMI returns a dummy (no-op) MLMI, used to pad layers during
// universalization.
func EmptyMLMI() *MLMI {
	return &MLMI{Seq: MLS{}, Inputs: nil, Outputs: nil}
}

// Defs returns the Mem operands defined by this MI's body.
func (m *MLMI) Defs() map[Operand]bool { return m.Seq.Defs() }

// Uses returns the Mem operands used but not defined by this MI's body.
func (m *MLMI) Uses() map[Operand]bool { return m.Seq.Uses() }

// LLMI is the register-level counterpart of MLMI: Inputs/Outputs
// remain Mem (bus-level addressing); Seq uses Reg/Imm only.
type LLMI struct {
	Seq     LLS
	Inputs  []Operand
	Outputs []Operand
}
