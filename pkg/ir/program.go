package ir

// HLIRProgram is the highest IR level: a flat, three-address SSA
// instruction list plus the program's declared inputs, outputs, and
// the total number of allocated Mem cells. This is the contract the
// front end (out of scope for this compiler) must produce.
type HLIRProgram struct {
	Instrs      []HLI
	Inputs      []Operand
	Outputs     []Operand
	MemoryCount int
}

// MLIRProgram is the mid-level IR: one MLMI per original HLI before
// clusterization, or the clusterized result flattened back into a
// linear list (used only as a stepping stone into the DFG).
type MLIRProgram struct {
	Instrs      []*MLMI
	Inputs      []Operand
	Outputs     []Operand
	MemoryCount int
}

// LLIRProgram is the lowest IR level: a list of LLMIs ready for
// serialization, plus the original program's bus-level inputs, the
// bus-level outputs (the cells universalization last copied them to,
// if it ran), and the final Mem cell count (inflated by
// universalization).
type LLIRProgram struct {
	Instrs      []*LLMI
	Inputs      []Operand
	Outputs     []Operand
	MemoryCount int
}

// InitialMLIR converts an HLIRProgram into one-MLMI-per-HLI form, the
// starting point for clusterization (DFG construction needs MLMI
// nodes, not bare HLIs).
func InitialMLIR(hlir *HLIRProgram) *MLIRProgram {
	instrs := make([]*MLMI, len(hlir.Instrs))
	for i, hli := range hlir.Instrs {
		instrs[i] = NewMLMI(hli)
	}
	return &MLIRProgram{
		Instrs:      instrs,
		Inputs:      hlir.Inputs,
		Outputs:     hlir.Outputs,
		MemoryCount: hlir.MemoryCount,
	}
}
