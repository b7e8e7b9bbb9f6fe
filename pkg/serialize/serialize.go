// Package serialize writes an LLIRProgram to the secure element's wire
// format: a plaintext header describing shapes and wiring, followed by
// one record per LLMI whose instruction body is sealed under an AEAD
// (component H).
package serialize

import (
	"fmt"
	"io"
	"math"

	"github.com/oisee/obscurec/pkg/aead"
	"github.com/oisee/obscurec/pkg/ir"
)

// Config carries the shape parameters that also drive clusterization,
// universalization, and lowering; the wire format derives its byte
// widths from these.
type Config struct {
	Version  int
	WordSize int // bits
	LIn      int
	LOut     int
	R        int
	S        int
}

// operandShape maps the three-letter {I,R,N} shape of (src1,src2,src3)
// to its 4-bit wire code. N never appears before a non-N slot (src3
// present implies src2 present), which is exactly the 14 entries here.
var operandShape = map[string]uint8{
	"INN": 0, "IRN": 1, "IRR": 2, "IRI": 3,
	"IIN": 4, "IIR": 5, "III": 6,
	"RNN": 7, "RRN": 8, "RRI": 9, "RRR": 10,
	"RII": 11, "RIR": 12, "RIN": 13,
}

// byteWidth returns ceil(ceil(log2(n))/8), the number of bytes needed
// to address n distinct values. byteWidth(1) is 0: a single possible
// value needs no bits to distinguish it, an edge case that only
// matters for a degenerate one-slot field.
func byteWidth(n int) int {
	if n <= 0 {
		return 0
	}
	bits := int(math.Ceil(math.Log2(float64(n))))
	if bits < 0 {
		bits = 0
	}
	return (bits + 7) / 8
}

func uintBE(n uint64, width int) []byte {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte(n)
		n >>= 8
	}
	return out
}

// id names an operand's definition site: the LLMI that produces it and
// that LLMI's output slot.
type id struct {
	instrID  int
	outputID int
}

func shapeLetter(o ir.Operand) byte {
	switch {
	case o.IsReg():
		return 'R'
	case o.IsImm():
		return 'I'
	default:
		return 'N'
	}
}

// serializeOperand returns the wire bytes for a present source
// operand: lbR bytes of register index, or wordSize/8 bytes of
// immediate value.
func serializeOperand(o ir.Operand, lbR, wordSize int) []byte {
	switch {
	case o.IsReg():
		return uintBE(uint64(o.R()), lbR)
	case o.IsImm():
		return uintBE(o.Value, wordSize/8)
	default:
		return nil
	}
}

// serializeLLS encodes one LLMI's instruction sequence. A NOP collapses
// to a single opcode+shape byte with all operand bytes elided.
func serializeLLS(instrs []ir.LLI, lbR, wordSize int) []byte {
	var out []byte
	for _, lli := range instrs {
		if lli.IsNop() {
			out = append(out, uint8(ir.NOP)<<4)
			continue
		}
		shape := string([]byte{shapeLetter(lli.Src1), shapeLetter(lli.Src2), shapeLetter(lli.Src3)})
		code, ok := operandShape[shape]
		if !ok {
			panic(fmt.Sprintf("serialize: no wire shape for operand pattern %q", shape))
		}
		out = append(out, (uint8(lli.Opcode)<<4)|code)
		out = append(out, uintBE(uint64(lli.Dst.R()), lbR)...)
		out = append(out, serializeOperand(lli.Src1, lbR, wordSize)...)
		out = append(out, serializeOperand(lli.Src2, lbR, wordSize)...)
		out = append(out, serializeOperand(lli.Src3, lbR, wordSize)...)
	}
	return out
}

func serializeMetadata(cfg Config) []byte {
	var out []byte
	out = append(out, uintBE(uint64(cfg.Version), 4)...)
	out = append(out, uintBE(uint64(cfg.WordSize), 4)...)
	out = append(out, uintBE(uint64(cfg.LIn), 4)...)
	out = append(out, uintBE(uint64(cfg.LOut), 4)...)
	out = append(out, uintBE(uint64(cfg.R), 4)...)
	out = append(out, uintBE(uint64(cfg.S), 4)...)
	return out
}

// Serialize writes prog to w per the secure element's wire format.
// sessionKey is the 32-byte AEAD key, sealed to recipientPub in the
// header so only that key's holder can derive it.
func Serialize(w io.Writer, prog *ir.LLIRProgram, cfg Config, sealer aead.Sealer, sessionKey []byte, recipientPub *[32]byte) error {
	lbM := byteWidth(prog.MemoryCount)
	lbR := byteWidth(cfg.R)
	lbO := byteWidth(cfg.LOut)

	header := serializeMetadata(cfg)
	header = append(header, uintBE(uint64(prog.MemoryCount), 4)...)

	sealedKey, err := sealer.Seal(recipientPub, sessionKey)
	if err != nil {
		return fmt.Errorf("serialize: sealing session key: %w", err)
	}
	header = append(header, sealedKey...)

	idDict := make(map[ir.Operand]id, len(prog.Inputs)+len(prog.Instrs))
	header = append(header, uintBE(uint64(len(prog.Inputs)), lbM)...)
	for idx, inp := range prog.Inputs {
		header = append(header, uintBE(uint64(inp.M()), lbM)...)
		idDict[inp] = id{instrID: idx/cfg.LOut + 1, outputID: idx % cfg.LOut}
	}

	outputSet := make(map[ir.Operand]bool, len(prog.Outputs))
	header = append(header, uintBE(uint64(len(prog.Outputs)), lbM)...)
	for _, out := range prog.Outputs {
		header = append(header, uintBE(uint64(out.M()), lbM)...)
		outputSet[out] = true
	}

	header = append(header, uintBE(uint64(len(prog.Instrs)), 4)...)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("serialize: writing header: %w", err)
	}

	firstInstrID := len(prog.Inputs)/cfg.LOut + 1
	for i, llmi := range prog.Instrs {
		instrID := (i + 1) + firstInstrID

		inputsBstr := make([]byte, 0, lbM*len(llmi.Inputs))
		inputIDs := make([]id, 0, len(llmi.Inputs))
		for _, inp := range llmi.Inputs {
			inputsBstr = append(inputsBstr, uintBE(uint64(inp.M()), lbM)...)
			def, ok := idDict[inp]
			if !ok {
				return fmt.Errorf("serialize: LLMI %d reads %s before any definer was serialized", instrID, inp)
			}
			inputIDs = append(inputIDs, def)
		}

		outputsBstr := make([]byte, 0, lbM*len(llmi.Outputs))
		reveal := 0
		for outputID, out := range llmi.Outputs {
			outputsBstr = append(outputsBstr, uintBE(uint64(out.M()), lbM)...)
			idDict[out] = id{instrID: instrID, outputID: outputID}
			if outputSet[out] {
				reveal = 1
			}
		}

		instrIDBstr := uintBE(uint64(instrID), 4)
		rflagBstr := []byte{byte(reveal)}
		inputCountBstr := uintBE(uint64(len(llmi.Inputs)), lbM)
		outputCountBstr := uintBE(uint64(len(llmi.Outputs)), lbM)

		inputIDsBstr := make([]byte, 0, len(inputIDs)*(4+lbO))
		for _, defID := range inputIDs {
			inputIDsBstr = append(inputIDsBstr, uintBE(uint64(defID.instrID), 4)...)
			inputIDsBstr = append(inputIDsBstr, uintBE(uint64(defID.outputID), lbO)...)
		}

		plaintext := serializeLLS(llmi.Seq.Instrs, lbR, cfg.WordSize)
		ad := append(append(append([]byte{}, instrIDBstr...), rflagBstr...), inputCountBstr...)
		ad = append(ad, inputIDsBstr...)
		ad = append(ad, outputCountBstr...)
		nonce := uintBE(uint64(instrID), 32)
		sealedLLS := sealer.Encrypt(sessionKey, nonce, ad, plaintext)

		llmiCode := inputCountBstr
		llmiCode = append(llmiCode, inputsBstr...)
		llmiCode = append(llmiCode, outputCountBstr...)
		llmiCode = append(llmiCode, outputsBstr...)
		llmiCode = append(llmiCode, instrIDBstr...)
		llmiCode = append(llmiCode, rflagBstr...)
		llmiCode = append(llmiCode, inputIDsBstr...)
		llmiCode = append(llmiCode, uintBE(uint64(len(sealedLLS)), 4)...)
		llmiCode = append(llmiCode, sealedLLS...)

		if _, err := w.Write(llmiCode); err != nil {
			return fmt.Errorf("serialize: writing LLMI %d: %w", instrID, err)
		}
	}

	return nil
}
