package serialize

import (
	"fmt"
	"io"

	"github.com/oisee/obscurec/pkg/aead"
	"github.com/oisee/obscurec/pkg/ir"
)

// shapeFromCode is operandShape inverted, built once at init since the
// forward map is the single source of truth for the wire encoding.
var shapeFromCode = func() map[uint8]string {
	m := make(map[uint8]string, len(operandShape))
	for shape, code := range operandShape {
		m[code] = shape
	}
	return m
}()

// cursor is a bounds-checked big-endian reader over an in-memory
// buffer, used only for decoding the fixed-shape records this package
// writes.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) uint(width int) (uint64, error) {
	if width == 0 {
		return 0, nil
	}
	if c.pos+width > len(c.buf) {
		return 0, fmt.Errorf("serialize: unexpected end of input at byte %d (want %d more)", c.pos, width)
	}
	var v uint64
	for _, b := range c.buf[c.pos : c.pos+width] {
		v = v<<8 | uint64(b)
	}
	c.pos += width
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.buf) {
		return nil, fmt.Errorf("serialize: unexpected end of input at byte %d (want %d more)", c.pos, n)
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

// Deserialize parses bytes written by Serialize back into the config
// and program that produced them. sessionKey is the plaintext AEAD key
// (callers already know it, since only the secure element can recover
// it from the sealed header field); the sealed session key field
// itself is only skipped over, never opened.
//
// The reconstructed program's Inputs/Outputs/Instrs are exactly what
// Serialize needs to reproduce the input bytes: re-serializing it with
// the same sessionKey and a deterministic sealer (StubSealer) yields
// byte-identical output, since every wire field Serialize writes is a
// pure function of those three slices, the MemoryCount, and cfg.
func Deserialize(r io.Reader, opener aead.Opener, sessionKey []byte) (Config, *ir.LLIRProgram, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Config{}, nil, fmt.Errorf("serialize: reading input: %w", err)
	}
	c := &cursor{buf: raw}

	var cfg Config
	for _, field := range []*int{&cfg.Version, &cfg.WordSize, &cfg.LIn, &cfg.LOut, &cfg.R, &cfg.S} {
		v, err := c.uint(4)
		if err != nil {
			return Config{}, nil, err
		}
		*field = int(v)
	}

	memCount64, err := c.uint(4)
	if err != nil {
		return Config{}, nil, err
	}
	memoryCount := int(memCount64)
	lbM := byteWidth(memoryCount)
	lbR := byteWidth(cfg.R)
	lbO := byteWidth(cfg.LOut)

	if _, err := c.bytes(aead.SealedKeySize); err != nil {
		return Config{}, nil, fmt.Errorf("serialize: reading sealed session key: %w", err)
	}

	inputCount, err := c.uint(lbM)
	if err != nil {
		return Config{}, nil, err
	}
	inputs := make([]ir.Operand, inputCount)
	for i := range inputs {
		m, err := c.uint(lbM)
		if err != nil {
			return Config{}, nil, err
		}
		inputs[i] = ir.Mem(int(m))
	}

	outputCount, err := c.uint(lbM)
	if err != nil {
		return Config{}, nil, err
	}
	outputs := make([]ir.Operand, outputCount)
	for i := range outputs {
		m, err := c.uint(lbM)
		if err != nil {
			return Config{}, nil, err
		}
		outputs[i] = ir.Mem(int(m))
	}

	llmiCount64, err := c.uint(4)
	if err != nil {
		return Config{}, nil, err
	}
	llmiCount := int(llmiCount64)

	instrs := make([]*ir.LLMI, llmiCount)
	for i := 0; i < llmiCount; i++ {
		llmi, err := deserializeLLMIRecord(c, cfg, lbM, lbR, lbO, opener, sessionKey)
		if err != nil {
			return Config{}, nil, fmt.Errorf("serialize: decoding LLMI %d: %w", i, err)
		}
		instrs[i] = llmi
	}

	prog := &ir.LLIRProgram{
		Instrs:      instrs,
		Inputs:      inputs,
		Outputs:     outputs,
		MemoryCount: memoryCount,
	}
	return cfg, prog, nil
}

func deserializeLLMIRecord(c *cursor, cfg Config, lbM, lbR, lbO int, opener aead.Opener, sessionKey []byte) (*ir.LLMI, error) {
	inputCount, err := c.uint(lbM)
	if err != nil {
		return nil, err
	}
	inputs := make([]ir.Operand, inputCount)
	for i := range inputs {
		m, err := c.uint(lbM)
		if err != nil {
			return nil, err
		}
		inputs[i] = ir.Mem(int(m))
	}

	outputCount, err := c.uint(lbM)
	if err != nil {
		return nil, err
	}
	outputs := make([]ir.Operand, outputCount)
	for i := range outputs {
		m, err := c.uint(lbM)
		if err != nil {
			return nil, err
		}
		outputs[i] = ir.Mem(int(m))
	}

	instrID64, err := c.uint(4)
	if err != nil {
		return nil, err
	}
	instrID := int(instrID64)

	rflagByte, err := c.bytes(1)
	if err != nil {
		return nil, err
	}

	inputIDsBstr, err := c.bytes(int(inputCount) * (4 + lbO))
	if err != nil {
		return nil, fmt.Errorf("reading inputIDs: %w", err)
	}

	llsLen64, err := c.uint(4)
	if err != nil {
		return nil, err
	}
	sealedLLS, err := c.bytes(int(llsLen64))
	if err != nil {
		return nil, err
	}

	ad := uintBE(uint64(instrID), 4)
	ad = append(ad, rflagByte...)
	ad = append(ad, uintBE(inputCount, lbM)...)
	ad = append(ad, inputIDsBstr...)
	ad = append(ad, uintBE(outputCount, lbM)...)

	nonce := uintBE(uint64(instrID), 32)
	plaintext, err := opener.Decrypt(sessionKey, nonce, ad, sealedLLS)
	if err != nil {
		return nil, fmt.Errorf("opening LLMI %d body: %w", instrID, err)
	}

	seq, err := deserializeLLS(plaintext, lbR, cfg.WordSize)
	if err != nil {
		return nil, err
	}

	return &ir.LLMI{Seq: seq, Inputs: inputs, Outputs: outputs}, nil
}

func deserializeLLS(buf []byte, lbR, wordSize int) (ir.LLS, error) {
	c := &cursor{buf: buf}
	var instrs []ir.LLI

	readOperand := func(letter byte) (ir.Operand, error) {
		switch letter {
		case 'N':
			return ir.Null, nil
		case 'R':
			v, err := c.uint(lbR)
			if err != nil {
				return ir.Null, fmt.Errorf("serialize: truncated register operand: %w", err)
			}
			return ir.Reg(int(v)), nil
		case 'I':
			v, err := c.uint(wordSize / 8)
			if err != nil {
				return ir.Null, fmt.Errorf("serialize: truncated immediate operand: %w", err)
			}
			return ir.Imm(v), nil
		default:
			return ir.Null, fmt.Errorf("serialize: unknown shape letter %q", letter)
		}
	}

	for c.pos < len(c.buf) {
		head, err := c.uint(1)
		if err != nil {
			return ir.LLS{}, err
		}
		opcode := ir.OpCode(head >> 4)
		if opcode == ir.NOP {
			instrs = append(instrs, ir.Instr{Opcode: ir.NOP})
			continue
		}
		shape, ok := shapeFromCode[uint8(head&0xF)]
		if !ok {
			return ir.LLS{}, fmt.Errorf("serialize: unknown operand shape code %d", head&0xF)
		}

		dstReg, err := c.uint(lbR)
		if err != nil {
			return ir.LLS{}, fmt.Errorf("serialize: truncated destination register: %w", err)
		}
		dst := ir.Reg(int(dstReg))

		src1, err := readOperand(shape[0])
		if err != nil {
			return ir.LLS{}, err
		}
		src2, err := readOperand(shape[1])
		if err != nil {
			return ir.LLS{}, err
		}
		src3, err := readOperand(shape[2])
		if err != nil {
			return ir.LLS{}, err
		}

		instrs = append(instrs, ir.NewLLI(opcode, dst, src1, src2, src3))
	}
	return ir.LLS{Instrs: instrs}, nil
}
