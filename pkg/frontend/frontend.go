// Package frontend turns program source text into the HLIRProgram the
// rest of the compiler operates on.
package frontend

import (
	"io"

	"github.com/oisee/obscurec/pkg/ir"
)

// Frontend produces an HLIRProgram from source text.
type Frontend interface {
	Parse(r io.Reader) (*ir.HLIRProgram, error)
}
