package frontend

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/oisee/obscurec/pkg/ir"
)

// TextFrontend parses a line-oriented three-address assembly:
//
//	.inputs m0, m1
//	.outputs m3
//	XOR m2, m0, m1
//	ADD m3, m2, #4
//
// One instruction per line, `OPCODE dst, src1[, src2[, src3]]`. `mN`
// addresses a Mem cell; `#N` (decimal, or 0xN/Nh hex) is an immediate.
// Blank lines and lines starting with ';' are ignored.
type TextFrontend struct{}

func (TextFrontend) Parse(r io.Reader) (*ir.HLIRProgram, error) {
	prog := &ir.HLIRProgram{}
	maxMem := -1

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		switch {
		case strings.HasPrefix(line, ".inputs"):
			ops, err := parseMemList(strings.TrimSpace(strings.TrimPrefix(line, ".inputs")))
			if err != nil {
				return nil, fmt.Errorf("frontend: line %d: %w", lineNo, err)
			}
			prog.Inputs = ops
		case strings.HasPrefix(line, ".outputs"):
			ops, err := parseMemList(strings.TrimSpace(strings.TrimPrefix(line, ".outputs")))
			if err != nil {
				return nil, fmt.Errorf("frontend: line %d: %w", lineNo, err)
			}
			prog.Outputs = ops
		default:
			hli, err := parseInstruction(line)
			if err != nil {
				return nil, fmt.Errorf("frontend: line %d: %w", lineNo, err)
			}
			prog.Instrs = append(prog.Instrs, hli)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("frontend: %w", err)
	}

	for _, m := range prog.Inputs {
		if m.M() > maxMem {
			maxMem = m.M()
		}
	}
	for _, m := range prog.Outputs {
		if m.M() > maxMem {
			maxMem = m.M()
		}
	}
	for _, instr := range prog.Instrs {
		if instr.Dst.M() > maxMem {
			maxMem = instr.Dst.M()
		}
		for _, s := range instr.MemInputs() {
			if s.M() > maxMem {
				maxMem = s.M()
			}
		}
	}
	prog.MemoryCount = maxMem + 1

	return prog, nil
}

func parseMemList(s string) ([]ir.Operand, error) {
	if s == "" {
		return nil, nil
	}
	var out []ir.Operand
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		op, err := parseOperand(tok)
		if err != nil {
			return nil, err
		}
		if !op.IsMem() {
			return nil, fmt.Errorf("%q: .inputs/.outputs entries must be memory cells", tok)
		}
		out = append(out, op)
	}
	return out, nil
}

func parseInstruction(line string) (ir.HLI, error) {
	mnemonic, rest, _ := strings.Cut(line, " ")
	op, ok := lookupOpCode(mnemonic)
	if !ok {
		return ir.HLI{}, fmt.Errorf("unknown opcode %q", mnemonic)
	}

	var operands []string
	for _, tok := range strings.Split(rest, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			operands = append(operands, tok)
		}
	}
	if len(operands) == 0 {
		return ir.HLI{}, fmt.Errorf("%s: missing destination operand", mnemonic)
	}

	dst, err := parseOperand(operands[0])
	if err != nil {
		return ir.HLI{}, err
	}
	if !dst.IsMem() {
		return ir.HLI{}, fmt.Errorf("%s: destination %q must be a memory cell", mnemonic, operands[0])
	}

	srcs := [3]ir.Operand{ir.Null, ir.Null, ir.Null}
	for i, tok := range operands[1:] {
		if i >= 3 {
			return ir.HLI{}, fmt.Errorf("%s: too many source operands", mnemonic)
		}
		s, err := parseOperand(tok)
		if err != nil {
			return ir.HLI{}, err
		}
		srcs[i] = s
	}

	return ir.NewHLI(op, dst, srcs[0], srcs[1], srcs[2]), nil
}

func lookupOpCode(s string) (ir.OpCode, bool) {
	for op := ir.OpCode(0); op < ir.OpCodeCount; op++ {
		if !op.Valid() {
			continue
		}
		if strings.EqualFold(op.String(), s) {
			return op, true
		}
	}
	return ir.OpCode(0), false
}

func parseOperand(tok string) (ir.Operand, error) {
	switch {
	case strings.HasPrefix(tok, "m") || strings.HasPrefix(tok, "M"):
		n, err := strconv.Atoi(tok[1:])
		if err != nil {
			return ir.Null, fmt.Errorf("invalid memory operand %q: %w", tok, err)
		}
		return ir.Mem(n), nil
	case strings.HasPrefix(tok, "#"):
		v, err := parseImmediate(tok[1:])
		if err != nil {
			return ir.Null, fmt.Errorf("invalid immediate %q: %w", tok, err)
		}
		return ir.Imm(v), nil
	default:
		return ir.Null, fmt.Errorf("unrecognized operand %q (want mN or #N)", tok)
	}
}

// parseImmediate accepts decimal, 0x-prefixed hex, and h-suffixed hex.
func parseImmediate(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty immediate")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err
	}
	if strings.HasSuffix(strings.ToUpper(s), "H") {
		v, err := strconv.ParseUint(s[:len(s)-1], 16, 64)
		return v, err
	}
	return strconv.ParseUint(s, 10, 64)
}
