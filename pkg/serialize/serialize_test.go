package serialize

import (
	"bytes"
	"testing"

	"github.com/oisee/obscurec/pkg/aead"
	"github.com/oisee/obscurec/pkg/ir"
)

func sampleProgram() *ir.LLIRProgram {
	return &ir.LLIRProgram{
		Inputs:      []ir.Operand{ir.Mem(0), ir.Mem(1)},
		Outputs:     []ir.Operand{ir.Mem(2)},
		MemoryCount: 3,
		Instrs: []*ir.LLMI{
			{
				Seq:     ir.LLS{Instrs: []ir.LLI{ir.NewLLI(ir.XOR, ir.Reg(2), ir.Reg(0), ir.Reg(1), ir.Null)}},
				Inputs:  []ir.Operand{ir.Mem(0), ir.Mem(1)},
				Outputs: []ir.Operand{ir.Mem(2)},
			},
		},
	}
}

func sampleConfig() Config {
	return Config{Version: 0, WordSize: 32, LIn: 1, LOut: 1, R: 4, S: 4}
}

var testPub = &[32]byte{}

func TestSerializeIsDeterministicUnderStubSealer(t *testing.T) {
	prog := sampleProgram()
	cfg := sampleConfig()
	key := make([]byte, 32)

	var a, b bytes.Buffer
	if err := Serialize(&a, prog, cfg, aead.StubSealer{}, key, testPub); err != nil {
		t.Fatalf("first serialize: %v", err)
	}
	if err := Serialize(&b, prog, cfg, aead.StubSealer{}, key, testPub); err != nil {
		t.Fatalf("second serialize: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("serialize is not deterministic under a fixed sealer:\n%x\n%x", a.Bytes(), b.Bytes())
	}
}

func TestSerializeHeaderFieldsMatchConfig(t *testing.T) {
	prog := sampleProgram()
	cfg := sampleConfig()
	key := make([]byte, 32)

	var buf bytes.Buffer
	if err := Serialize(&buf, prog, cfg, aead.StubSealer{}, key, testPub); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	out := buf.Bytes()

	readU32 := func(off int) uint32 {
		return uint32(out[off])<<24 | uint32(out[off+1])<<16 | uint32(out[off+2])<<8 | uint32(out[off+3])
	}
	if v := readU32(0); v != uint32(cfg.Version) {
		t.Errorf("version = %d, want %d", v, cfg.Version)
	}
	if v := readU32(4); v != uint32(cfg.WordSize) {
		t.Errorf("word_size = %d, want %d", v, cfg.WordSize)
	}
	if v := readU32(8); v != uint32(cfg.LIn) {
		t.Errorf("l_in = %d, want %d", v, cfg.LIn)
	}
	if v := readU32(12); v != uint32(cfg.LOut) {
		t.Errorf("l_out = %d, want %d", v, cfg.LOut)
	}
	if v := readU32(16); v != uint32(cfg.R) {
		t.Errorf("r = %d, want %d", v, cfg.R)
	}
	if v := readU32(20); v != uint32(cfg.S) {
		t.Errorf("s = %d, want %d", v, cfg.S)
	}
	if v := readU32(24); v != uint32(prog.MemoryCount) {
		t.Errorf("memory_count = %d, want %d", v, prog.MemoryCount)
	}
}

func TestSerializeRejectsDanglingInput(t *testing.T) {
	prog := sampleProgram()
	// Orphan the single LLMI's first input so it has no recorded definer.
	prog.Instrs[0].Inputs[0] = ir.Mem(99)
	cfg := sampleConfig()

	var buf bytes.Buffer
	if err := Serialize(&buf, prog, cfg, aead.StubSealer{}, make([]byte, 32), testPub); err == nil {
		t.Error("expected an error for an LLMI input with no recorded definer")
	}
}

func TestDeserializeRoundTripsEveryField(t *testing.T) {
	prog := sampleProgram()
	cfg := sampleConfig()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}

	var buf bytes.Buffer
	if err := Serialize(&buf, prog, cfg, aead.StubSealer{}, key, testPub); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	original := append([]byte(nil), buf.Bytes()...)

	gotCfg, gotProg, err := Deserialize(bytes.NewReader(original), aead.StubSealer{}, key)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if gotCfg != cfg {
		t.Fatalf("config mismatch: got %+v, want %+v", gotCfg, cfg)
	}
	if gotProg.MemoryCount != prog.MemoryCount {
		t.Errorf("memory_count mismatch: got %d, want %d", gotProg.MemoryCount, prog.MemoryCount)
	}
	if len(gotProg.Inputs) != len(prog.Inputs) || gotProg.Inputs[0] != prog.Inputs[0] || gotProg.Inputs[1] != prog.Inputs[1] {
		t.Errorf("inputs mismatch: got %v, want %v", gotProg.Inputs, prog.Inputs)
	}
	if len(gotProg.Outputs) != len(prog.Outputs) || gotProg.Outputs[0] != prog.Outputs[0] {
		t.Errorf("outputs mismatch: got %v, want %v", gotProg.Outputs, prog.Outputs)
	}
	if len(gotProg.Instrs) != 1 {
		t.Fatalf("expected 1 decoded LLMI, got %d", len(gotProg.Instrs))
	}

	gotLLMI, wantLLMI := gotProg.Instrs[0], prog.Instrs[0]
	if len(gotLLMI.Seq.Instrs) != 1 || gotLLMI.Seq.Instrs[0] != wantLLMI.Seq.Instrs[0] {
		t.Errorf("decoded instruction body mismatch: got %+v, want %+v", gotLLMI.Seq.Instrs, wantLLMI.Seq.Instrs)
	}
	if len(gotLLMI.Inputs) != len(wantLLMI.Inputs) || gotLLMI.Inputs[0] != wantLLMI.Inputs[0] || gotLLMI.Inputs[1] != wantLLMI.Inputs[1] {
		t.Errorf("decoded LLMI inputs mismatch: got %v, want %v", gotLLMI.Inputs, wantLLMI.Inputs)
	}
	if len(gotLLMI.Outputs) != len(wantLLMI.Outputs) || gotLLMI.Outputs[0] != wantLLMI.Outputs[0] {
		t.Errorf("decoded LLMI outputs mismatch: got %v, want %v", gotLLMI.Outputs, wantLLMI.Outputs)
	}

	var reencoded bytes.Buffer
	if err := Serialize(&reencoded, gotProg, gotCfg, aead.StubSealer{}, key, testPub); err != nil {
		t.Fatalf("re-serialize: %v", err)
	}
	if !bytes.Equal(original, reencoded.Bytes()) {
		t.Fatalf("serialize(parse(bytes)) != bytes:\noriginal:   %x\nreencoded:  %x", original, reencoded.Bytes())
	}
}

func TestDeserializeRejectsWrongSessionKey(t *testing.T) {
	prog := sampleProgram()
	cfg := sampleConfig()
	key := make([]byte, 32)

	var buf bytes.Buffer
	if err := Serialize(&buf, prog, cfg, aead.StubSealer{}, key, testPub); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	wrongKey := make([]byte, 32)
	for i := range wrongKey {
		wrongKey[i] = 0xFF
	}
	if _, _, err := Deserialize(bytes.NewReader(buf.Bytes()), aead.StubSealer{}, wrongKey); err == nil {
		t.Error("expected deserialize with the wrong session key to fail authentication")
	}
}

func TestByteWidthMatchesBitCounts(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{1, 0},
		{2, 1},
		{4, 1},
		{255, 1},
		{256, 1},
		{257, 2},
	}
	for _, c := range cases {
		if got := byteWidth(c.n); got != c.want {
			t.Errorf("byteWidth(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
