// Package lowering schedules a DFG in topological order and lowers
// each MLMI into an LLMI via register allocation (component G).
package lowering

import (
	"fmt"

	"github.com/oisee/obscurec/pkg/dfg"
	"github.com/oisee/obscurec/pkg/ir"
	"github.com/oisee/obscurec/pkg/regalloc"
)

// Config bounds register allocation during lowering.
type Config struct {
	R    int // total registers
	LOut int // max outputs (and thus the fixed high-register slot count)
}

// MLMIToLLMI converts one MLMI into an LLMI by allocating registers
// for its body and rewriting every Mem operand in it to the assigned
// Reg, preserving the MLMI's Inputs/Outputs lists (bus-level, and
// order-preserving since positional semantics matter downstream). An
// MLMI with no inputs is lowered with the single input m[0].
func MLMIToLLMI(mlmi *ir.MLMI, maxRegisterCount, maxOutputCount int) (*ir.LLMI, error) {
	inputs := mlmi.Inputs
	if len(inputs) == 0 {
		inputs = []ir.Operand{ir.Mem(0)}
	}

	regs, err := regalloc.GetRegistersMapping(mlmi.Seq.Instrs, inputs, mlmi.Outputs, maxRegisterCount, maxOutputCount)
	if err != nil {
		return nil, fmt.Errorf("lowering: %w", err)
	}

	convertSrc := func(src ir.Operand) ir.Operand {
		switch src.Kind {
		case ir.KindNone:
			return ir.Null
		case ir.KindMem:
			return regs[src]
		case ir.KindImm:
			return src
		default:
			panic("lowering: unexpected operand kind in MLS source")
		}
	}

	instrs := make([]ir.LLI, len(mlmi.Seq.Instrs))
	for i, instr := range mlmi.Seq.Instrs {
		instrs[i] = ir.NewLLI(instr.Opcode, regs[instr.Dst],
			convertSrc(instr.Src1), convertSrc(instr.Src2), convertSrc(instr.Src3))
	}

	return &ir.LLMI{Seq: ir.LLS{Instrs: instrs}, Inputs: inputs, Outputs: mlmi.Outputs}, nil
}

// ErrUnscheduledNode signals a DFG invariant breach: some node could
// never be scheduled (its inputs never all became ready), which means
// a cycle or a missing edge slipped through earlier passes.
var ErrUnscheduledNode = fmt.Errorf("lowering: unscheduled node (cycle or invariant breach)")

// ToLLIR repeatedly picks any node all of whose inputs are already
// "ready" (seeded from prog_inputs), allocates its registers, emits
// its LLMI, and marks its outputs ready. Every node must be scheduled
// exactly once; otherwise lowering fails (component B/G's topological
// emit).
func ToLLIR(g *dfg.Graph, cfg Config, progInputs []ir.Operand) (*ir.LLIRProgram, error) {
	memReady := make(map[ir.Operand]bool, len(g.ProgInputs))
	for m := range g.ProgInputs {
		memReady[m] = true
	}

	nodeReady := func(node *ir.MLMI) bool {
		for _, m := range node.Inputs {
			if !memReady[m] {
				return false
			}
		}
		return true
	}

	todo := make(map[*ir.MLMI]bool)
	for node := range g.Nodes {
		if nodeReady(node) {
			todo[node] = true
		}
	}

	done := make(map[*ir.MLMI]bool, len(g.Nodes))
	var llmis []*ir.LLMI

	for len(todo) > 0 {
		var node *ir.MLMI
		for n := range todo {
			node = n
			break
		}
		delete(todo, node)
		if done[node] || !nodeReady(node) {
			continue
		}

		llmi, err := MLMIToLLMI(node, cfg.R, cfg.LOut)
		if err != nil {
			return nil, fmt.Errorf("lowering: fatal register allocation failure (clusterization should have prevented this): %w", err)
		}
		llmis = append(llmis, llmi)
		for _, m := range node.Outputs {
			memReady[m] = true
		}
		done[node] = true

		for next := range g.ForwardEdges[node] {
			todo[next] = true
		}
	}

	for node := range g.Nodes {
		if !done[node] {
			return nil, ErrUnscheduledNode
		}
	}

	return &ir.LLIRProgram{
		Instrs:      llmis,
		Inputs:      progInputs,
		Outputs:     g.ProgOutputs,
		MemoryCount: g.MemoryCount,
	}, nil
}
