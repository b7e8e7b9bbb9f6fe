package dfg

import (
	"testing"

	"github.com/oisee/obscurec/pkg/ir"
)

func buildProgram(instrs []ir.HLI, inputs, outputs []ir.Operand, memCount int) *Graph {
	hlir := &ir.HLIRProgram{Instrs: instrs, Inputs: inputs, Outputs: outputs, MemoryCount: memCount}
	return Build(ir.InitialMLIR(hlir))
}

func TestE1ShapePreservation(t *testing.T) {
	instrs := []ir.HLI{ir.NewHLI(ir.XOR, ir.Mem(2), ir.Mem(0), ir.Mem(1), ir.Null)}
	g := buildProgram(instrs, []ir.Operand{ir.Mem(0), ir.Mem(1)}, []ir.Operand{ir.Mem(2)}, 3)

	if len(g.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(g.Nodes))
	}
	if err := g.CheckIntegrity(); err != nil {
		t.Fatal(err)
	}
}

func TestE2OneOutputFusionMergeSemantics(t *testing.T) {
	// ADD m3,m0,m1; XOR m4,m3,m2 — m3 has a single user, so merging
	// should drop m3 from the merged outputs.
	a := ir.NewHLI(ir.ADD, ir.Mem(3), ir.Mem(0), ir.Mem(1), ir.Null)
	b := ir.NewHLI(ir.XOR, ir.Mem(4), ir.Mem(3), ir.Mem(2), ir.Null)
	g := buildProgram([]ir.HLI{a, b}, []ir.Operand{ir.Mem(0), ir.Mem(1), ir.Mem(2)}, []ir.Operand{ir.Mem(4)}, 5)

	var n1, n2 *ir.MLMI
	for n := range g.Nodes {
		if n.Outputs[0] == ir.Mem(3) {
			n1 = n
		} else {
			n2 = n
		}
	}

	merged := g.MergeNodes(n1, n2, nil)
	if len(merged.Inputs) != 3 {
		t.Errorf("merged inputs = %v, want 3 operands", merged.Inputs)
	}
	if len(merged.Outputs) != 1 || merged.Outputs[0] != ir.Mem(4) {
		t.Errorf("merged outputs = %v, want [m4]", merged.Outputs)
	}
	if err := g.CheckIntegrity(); err != nil {
		t.Fatal(err)
	}
}

func TestE3DominationBlocksMerge(t *testing.T) {
	// A -> B, A -> C, B -> C (diamond). A and C must not be mergeable.
	a := ir.NewHLI(ir.MOV, ir.Mem(1), ir.Mem(0), ir.Null, ir.Null)
	b := ir.NewHLI(ir.MOV, ir.Mem(2), ir.Mem(1), ir.Null, ir.Null)
	c := ir.NewHLI(ir.ADD, ir.Mem(3), ir.Mem(1), ir.Mem(2), ir.Null)
	g := buildProgram([]ir.HLI{a, b, c}, []ir.Operand{ir.Mem(0)}, []ir.Operand{ir.Mem(3)}, 4)

	var nA, nC *ir.MLMI
	for n := range g.Nodes {
		switch n.Outputs[0] {
		case ir.Mem(1):
			nA = n
		case ir.Mem(3):
			nC = n
		}
	}

	if g.CheckDominationForMerge(nA, nC) {
		t.Error("A and C should not be mergeable: B is reachable from A and reaches C")
	}
}

func TestMergedInstrsScheduleIsValid(t *testing.T) {
	a := ir.NewHLI(ir.ADD, ir.Mem(2), ir.Mem(0), ir.Mem(1), ir.Null)
	b := ir.NewHLI(ir.XOR, ir.Mem(3), ir.Mem(2), ir.Mem(0), ir.Null)
	g := buildProgram([]ir.HLI{a, b}, []ir.Operand{ir.Mem(0), ir.Mem(1)}, []ir.Operand{ir.Mem(3)}, 4)

	var nA, nB *ir.MLMI
	for n := range g.Nodes {
		if n.Outputs[0] == ir.Mem(2) {
			nA = n
		} else {
			nB = n
		}
	}

	inputs := g.ComputeMergedInputs(nA, nB)
	seq := g.ComputeMergedInstrs(nA, nB, inputs)
	if len(seq.Instrs) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(seq.Instrs))
	}
	if seq.Instrs[0].Dst != ir.Mem(2) {
		t.Errorf("m2 must be scheduled before m3 (its user): got order %v", seq.Instrs)
	}
}
