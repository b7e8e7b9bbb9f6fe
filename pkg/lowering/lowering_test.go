package lowering

import (
	"testing"

	"github.com/oisee/obscurec/pkg/dfg"
	"github.com/oisee/obscurec/pkg/ir"
)

func TestMLMIToLLMISingleNode(t *testing.T) {
	mlmi := &ir.MLMI{
		Seq:     ir.MLS{Instrs: []ir.HLI{ir.NewHLI(ir.XOR, ir.Mem(2), ir.Mem(0), ir.Mem(1), ir.Null)}},
		Inputs:  []ir.Operand{ir.Mem(0), ir.Mem(1)},
		Outputs: []ir.Operand{ir.Mem(2)},
	}

	llmi, err := MLMIToLLMI(mlmi, 4, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(llmi.Seq.Instrs) != 1 {
		t.Fatalf("expected 1 LLI, got %d", len(llmi.Seq.Instrs))
	}
	lli := llmi.Seq.Instrs[0]
	if !lli.Dst.IsReg() || !lli.Src1.IsReg() || !lli.Src2.IsReg() {
		t.Errorf("all Mem operands must be lowered to Reg: %+v", lli)
	}
}

func TestToLLIRSchedulesAllNodes(t *testing.T) {
	a := ir.NewHLI(ir.ADD, ir.Mem(2), ir.Mem(0), ir.Mem(1), ir.Null)
	b := ir.NewHLI(ir.XOR, ir.Mem(3), ir.Mem(2), ir.Mem(0), ir.Null)
	hlir := &ir.HLIRProgram{
		Instrs:      []ir.HLI{a, b},
		Inputs:      []ir.Operand{ir.Mem(0), ir.Mem(1)},
		Outputs:     []ir.Operand{ir.Mem(3)},
		MemoryCount: 4,
	}
	g := dfg.Build(ir.InitialMLIR(hlir))

	llir, err := ToLLIR(g, Config{R: 4, LOut: 1}, hlir.Inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(llir.Instrs) != 2 {
		t.Fatalf("expected 2 LLMIs, got %d", len(llir.Instrs))
	}
}

// evalLLIR threads Mem-valued bindings through an LLIRProgram,
// feeding each LLMI's register file from its Inputs and writing its
// Outputs back from registers, the same bus-level protocol the
// secure element itself follows between MIs.
func evalLLIR(prog *ir.LLIRProgram, wordBits, r, lOut int, inputs map[ir.Operand]uint64) map[ir.Operand]uint64 {
	mem := make(map[ir.Operand]uint64, len(inputs))
	for k, v := range inputs {
		mem[k] = v
	}
	for _, llmi := range prog.Instrs {
		regs := make([]uint64, r)
		for i, in := range llmi.Inputs {
			regs[i] = mem[in]
		}
		ir.EvalLLS(llmi.Seq, wordBits, regs)
		for i, out := range llmi.Outputs {
			mem[out] = regs[r-lOut+i]
		}
	}
	return mem
}

func TestLoweringPreservesSemantics(t *testing.T) {
	a := ir.NewHLI(ir.XOR, ir.Mem(4), ir.Mem(0), ir.Mem(1), ir.Null)
	b := ir.NewHLI(ir.XOR, ir.Mem(5), ir.Mem(2), ir.Mem(3), ir.Null)
	c := ir.NewHLI(ir.ADD, ir.Mem(6), ir.Mem(4), ir.Mem(5), ir.Null)
	hlir := &ir.HLIRProgram{
		Instrs:      []ir.HLI{a, b, c},
		Inputs:      []ir.Operand{ir.Mem(0), ir.Mem(1), ir.Mem(2), ir.Mem(3)},
		Outputs:     []ir.Operand{ir.Mem(6)},
		MemoryCount: 7,
	}

	inputVals := map[ir.Operand]uint64{
		ir.Mem(0): 0xA5, ir.Mem(1): 0x3C, ir.Mem(2): 0x0F, ir.Mem(3): 0xF0,
	}

	wantMem := make(map[ir.Operand]uint64, len(inputVals))
	for k, v := range inputVals {
		wantMem[k] = v
	}
	ir.EvalMLS(ir.MLS{Instrs: hlir.Instrs}, 32, wantMem)
	want := wantMem[ir.Mem(6)]

	g := dfg.Build(ir.InitialMLIR(hlir))
	llir, err := ToLLIR(g, Config{R: 8, LOut: 1}, hlir.Inputs)
	if err != nil {
		t.Fatalf("ToLLIR: %v", err)
	}

	got := evalLLIR(llir, 32, 8, 1, inputVals)[ir.Mem(6)]
	if got != want {
		t.Errorf("lowering changed program semantics: got %#x, want %#x", got, want)
	}
}

func TestToLLIRDetectsUnscheduledNode(t *testing.T) {
	// Build a DFG, then inject a node with a dangling input that no
	// producer and no program input ever satisfies.
	hlir := &ir.HLIRProgram{
		Instrs:      []ir.HLI{ir.NewHLI(ir.MOV, ir.Mem(1), ir.Mem(0), ir.Null, ir.Null)},
		Inputs:      []ir.Operand{ir.Mem(0)},
		Outputs:     []ir.Operand{ir.Mem(1)},
		MemoryCount: 3,
	}
	g := dfg.Build(ir.InitialMLIR(hlir))

	stray := g.NewEmptyNode()
	stray.Inputs = []ir.Operand{ir.Mem(2)}
	stray.Outputs = []ir.Operand{}

	_, err := ToLLIR(g, Config{R: 4, LOut: 1}, hlir.Inputs)
	if err != ErrUnscheduledNode {
		t.Fatalf("expected ErrUnscheduledNode, got %v", err)
	}
}
