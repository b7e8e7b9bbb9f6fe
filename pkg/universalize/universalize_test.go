package universalize

import (
	"math/rand"
	"testing"

	"github.com/oisee/obscurec/pkg/dfg"
	"github.com/oisee/obscurec/pkg/ir"
)

func TestUniversalizeProducesIntegralGraph(t *testing.T) {
	hlir := &ir.HLIRProgram{
		Instrs: []ir.HLI{
			ir.NewHLI(ir.ADD, ir.Mem(2), ir.Mem(0), ir.Mem(1), ir.Null),
			ir.NewHLI(ir.XOR, ir.Mem(3), ir.Mem(2), ir.Mem(0), ir.Null),
		},
		Inputs:      []ir.Operand{ir.Mem(0), ir.Mem(1)},
		Outputs:     []ir.Operand{ir.Mem(3)},
		MemoryCount: 4,
	}
	g := dfg.Build(ir.InitialMLIR(hlir))
	cfg := Config{LIn: 2, LOut: 2, R: 8, S: 4}

	layers, err := Universalize(g, cfg, rand.New(rand.NewSource(1)), nil)
	if err != nil {
		t.Fatalf("Universalize failed: %v", err)
	}
	if err := g.CheckIntegrity(); err != nil {
		t.Fatalf("post-universalize DFG integrity violated: %v", err)
	}

	if len(layers) < 2 {
		t.Fatalf("expected at least a head and tail layer, got %d layers", len(layers))
	}
	interior := layers[1 : len(layers)-1]
	if len(interior) == 0 {
		t.Fatal("expected at least one interior layer")
	}
	width := len(interior[0])
	for i, layer := range interior {
		if len(layer) != width {
			t.Errorf("layer %d has width %d, want %d (all interior layers must match)", i+1, len(layer), width)
		}
		for _, node := range layer {
			if len(node.Inputs) != cfg.LIn {
				t.Errorf("interior node in layer %d has %d inputs, want l_in=%d", i+1, len(node.Inputs), cfg.LIn)
			}
			if len(node.Outputs) != cfg.LOut {
				t.Errorf("interior node in layer %d has %d outputs, want l_out=%d", i+1, len(node.Outputs), cfg.LOut)
			}
		}
	}
}

func TestUniversalizeRejectsMismatchedInOut(t *testing.T) {
	hlir := &ir.HLIRProgram{
		Instrs:      []ir.HLI{ir.NewHLI(ir.MOV, ir.Mem(1), ir.Mem(0), ir.Null, ir.Null)},
		Inputs:      []ir.Operand{ir.Mem(0)},
		Outputs:     []ir.Operand{ir.Mem(1)},
		MemoryCount: 2,
	}
	g := dfg.Build(ir.InitialMLIR(hlir))
	cfg := Config{LIn: 2, LOut: 4, R: 8, S: 4}

	if _, err := Universalize(g, cfg, rand.New(rand.NewSource(1)), nil); err == nil {
		t.Error("expected an error for l_in != l_out")
	}
}

func TestUniversalizeRejectsNonPowerOfTwoWidth(t *testing.T) {
	hlir := &ir.HLIRProgram{
		Instrs:      []ir.HLI{ir.NewHLI(ir.MOV, ir.Mem(1), ir.Mem(0), ir.Null, ir.Null)},
		Inputs:      []ir.Operand{ir.Mem(0)},
		Outputs:     []ir.Operand{ir.Mem(1)},
		MemoryCount: 2,
	}
	g := dfg.Build(ir.InitialMLIR(hlir))
	cfg := Config{LIn: 3, LOut: 3, R: 8, S: 4}

	if _, err := Universalize(g, cfg, rand.New(rand.NewSource(1)), nil); err == nil {
		t.Error("expected an error for a non-power-of-two l_in")
	}
}
