// Package regalloc implements linear-scan register allocation over an
// MI's straight-line body, honoring the secure element's fixed
// input-first / output-last register conventions.
package regalloc

import (
	"errors"

	"github.com/oisee/obscurec/pkg/ir"
)

// ErrInsufficientRegisters is the distinguished failure for "ran out
// of free registers during allocation" — the clusterizer treats this
// as "merge illegal" (score -1); lowering treats it as fatal.
var ErrInsufficientRegisters = errors.New("regalloc: insufficient registers")

// Mapping assigns a register to every Mem cell touched by a body.
type Mapping map[ir.Operand]ir.Operand

// liveIntervals computes birth (first define index, or -1 for inputs)
// and death (last use index, or len(instrs)+1 for outputs) per Mem.
func liveIntervals(instrs []ir.HLI, inputs, outputs []ir.Operand) (births, deaths map[int][]ir.Operand) {
	births = make(map[int][]ir.Operand)
	deaths = make(map[int][]ir.Operand)

	for _, m := range inputs {
		births[-1] = append(births[-1], m)
	}
	for _, m := range outputs {
		deaths[len(instrs)+1] = append(deaths[len(instrs)+1], m)
	}
	for idx, instr := range instrs {
		births[idx] = append(births[idx], instr.Dst)
	}

	dead := make(map[ir.Operand]bool)
	for _, m := range outputs {
		dead[m] = true
	}
	for idx := len(instrs) - 1; idx >= 0; idx-- {
		for _, m := range instrs[idx].MemInputs() {
			if !dead[m] {
				deaths[idx] = append(deaths[idx], m)
				dead[m] = true
			}
		}
	}
	return births, deaths
}

// GetRegistersMapping assigns a register for each Mem operand of
// instrs. Inputs occupy registers 0..len(inputs)-1 (only those
// actually used — an unused input still occupies its slot to preserve
// positional protocol); outputs occupy the last maxOutputCount
// registers (k-maxOutputCount..k-1). Temporaries draw from the free
// middle range via linear scan. Returns ErrInsufficientRegisters if
// the pool is empty at an allocation point.
func GetRegistersMapping(instrs []ir.HLI, inputs, outputs []ir.Operand, k, maxOutputCount int) (Mapping, error) {
	memToReg := make(Mapping)

	used := (&ir.MLMI{Seq: ir.MLS{Instrs: instrs}, Inputs: inputs, Outputs: outputs}).Uses()
	for idx, m := range inputs {
		if used[m] {
			if _, ok := memToReg[m]; !ok {
				memToReg[m] = ir.Reg(idx)
			}
		}
	}
	firstFreeRegister := len(inputs)

	firstOutputIdx := k - maxOutputCount
	for idx, m := range outputs {
		memToReg[m] = ir.Reg(firstOutputIdx + idx)
	}

	births, deaths := liveIntervals(instrs, inputs, outputs)

	freeRegisters := make(map[int]bool)
	for r := firstFreeRegister; r < firstOutputIdx; r++ {
		freeRegisters[r] = true
	}

	for i := 0; i < len(instrs); i++ {
		for _, m := range deaths[i] {
			if r, ok := memToReg[m]; ok {
				freeRegisters[r.R()] = true
			}
		}
		for _, m := range births[i] {
			if _, ok := memToReg[m]; ok {
				continue
			}
			if len(freeRegisters) == 0 {
				return nil, ErrInsufficientRegisters
			}
			r := popAny(freeRegisters)
			memToReg[m] = ir.Reg(r)
		}
	}

	return memToReg, nil
}

func popAny(set map[int]bool) int {
	var r int
	for k := range set {
		r = k
		break
	}
	delete(set, r)
	return r
}

// FitsWithin reports whether instrs can be allocated within k
// registers (maxOutputCount reserved for outputs). Catches only the
// insufficient-registers failure.
func FitsWithin(instrs []ir.HLI, inputs, outputs []ir.Operand, k, maxOutputCount int) bool {
	_, err := GetRegistersMapping(instrs, inputs, outputs, k, maxOutputCount)
	return err == nil
}
