package compile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/oisee/obscurec/pkg/aead"
	"github.com/oisee/obscurec/pkg/frontend"
	"github.com/oisee/obscurec/pkg/ir"
	"github.com/oisee/obscurec/pkg/serialize"
)

const sampleSource = `
.inputs m0, m1, m2, m3
.outputs m5

XOR m4, m0, m1
XOR m5, m4, m2
`

var testPub = &[32]byte{}

func TestCompileWithoutUniversalization(t *testing.T) {
	cfg := Config{WordSize: 32, LIn: 2, LOut: 1, R: 8, S: 4, Universal: false, Fast: true}
	var out bytes.Buffer
	err := Compile(strings.NewReader(sampleSource), &out, cfg, frontend.TextFrontend{},
		aead.StubSealer{}, make([]byte, 32), testPub, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if out.Len() == 0 {
		t.Error("Compile produced no output")
	}
}

func TestCompileWithUniversalization(t *testing.T) {
	cfg := Config{WordSize: 32, LIn: 2, LOut: 2, R: 8, S: 8, Universal: true, Fast: true, Seed: 7}
	var out bytes.Buffer
	err := Compile(strings.NewReader(sampleSource), &out, cfg, frontend.TextFrontend{},
		aead.StubSealer{}, make([]byte, 32), testPub, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if out.Len() == 0 {
		t.Error("Compile produced no output")
	}
}

func TestCompileRejectsUndersizedRegisterFile(t *testing.T) {
	cfg := Config{WordSize: 32, LIn: 2, LOut: 1, R: 2, S: 4, Universal: false}
	var out bytes.Buffer
	err := Compile(strings.NewReader(sampleSource), &out, cfg, frontend.TextFrontend{},
		aead.StubSealer{}, make([]byte, 32), testPub, nil)
	if err == nil {
		t.Error("expected a validation error for r < l_in+l_out")
	}
}

// evalCompiledProgram threads Mem-valued bindings through a decoded
// LLIRProgram, the same bus-level protocol the secure element follows
// between MIs: every LLMI reserves its output registers at
// r-lOut..r-1 regardless of its own output count, since lowering
// allocates against the configured l_out, not the node's actual count.
func evalCompiledProgram(prog *ir.LLIRProgram, wordBits, r, lOut int, inputs map[ir.Operand]uint64) map[ir.Operand]uint64 {
	mem := make(map[ir.Operand]uint64, len(inputs))
	for k, v := range inputs {
		mem[k] = v
	}
	firstOutputIdx := r - lOut
	for _, llmi := range prog.Instrs {
		regs := make([]uint64, r)
		for i, in := range llmi.Inputs {
			regs[i] = mem[in]
		}
		ir.EvalLLS(llmi.Seq, wordBits, regs)
		for i, out := range llmi.Outputs {
			mem[out] = regs[firstOutputIdx+i]
		}
	}
	return mem
}

const xorAddSource = `
.inputs m0, m1, m2, m3
.outputs m6

XOR m4, m0, m1
XOR m5, m2, m3
ADD m6, m4, m5
`

func testXorAddCompilesToCorrectValue(t *testing.T, universal bool, seed int64) {
	cfg := Config{
		WordSize: 32, LIn: 2, LOut: 2, R: 8, S: 4,
		Universal: universal, Fast: true, Seed: seed,
	}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 3)
	}

	var out bytes.Buffer
	err := Compile(strings.NewReader(xorAddSource), &out, cfg, frontend.TextFrontend{},
		aead.StubSealer{}, key, testPub, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	gotCfg, prog, err := serialize.Deserialize(bytes.NewReader(out.Bytes()), aead.StubSealer{}, key)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	a, b, c, d := uint64(0xA5), uint64(0x3C), uint64(0x0F), uint64(0xF0)
	inputs := map[ir.Operand]uint64{
		ir.Mem(0): a, ir.Mem(1): b, ir.Mem(2): c, ir.Mem(3): d,
	}
	// The compiled program's declared Inputs are always the frontend's
	// original Mem cells, independent of whether universalization ran.
	if len(prog.Inputs) != 4 {
		t.Fatalf("expected 4 declared inputs, got %d", len(prog.Inputs))
	}

	mem := evalCompiledProgram(prog, gotCfg.WordSize, gotCfg.R, gotCfg.LOut, inputs)

	want := ((a ^ b) + (c ^ d)) & 0xFFFFFFFF
	if len(prog.Outputs) != 1 {
		t.Fatalf("expected 1 declared output, got %d", len(prog.Outputs))
	}
	got, ok := mem[prog.Outputs[0]]
	if !ok {
		t.Fatalf("output Mem cell %v was never written", prog.Outputs[0])
	}
	if got != want {
		t.Errorf("compiled program computed %#x, want %#x ((a^b)+(c^d))", got, want)
	}
}

func TestCompileWithoutUniversalizationComputesCorrectValue(t *testing.T) {
	testXorAddCompilesToCorrectValue(t, false, 1)
}

func TestCompileWithUniversalizationComputesCorrectValue(t *testing.T) {
	testXorAddCompilesToCorrectValue(t, true, 7)
}

func TestCompileStatsAreWrittenWhenRequested(t *testing.T) {
	cfg := Config{WordSize: 32, LIn: 2, LOut: 1, R: 8, S: 4, Universal: false, Fast: true}
	var out, stats bytes.Buffer
	if err := Compile(strings.NewReader(sampleSource), &out, cfg, frontend.TextFrontend{},
		aead.StubSealer{}, make([]byte, 32), testPub, &stats); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if stats.Len() == 0 {
		t.Error("expected stats output, got none")
	}
}
