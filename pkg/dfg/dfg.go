// Package dfg implements the dataflow graph over MLMIs: the
// structure clusterization, universalization, and lowering all
// operate on between the HLIR and the final LLIR.
package dfg

import (
	"fmt"

	"github.com/oisee/obscurec/pkg/ir"
)

// Graph is the dataflow graph (DFG). Nodes are *ir.MLMI, represented
// by pointer identity (stable identifiers, per the compiler's design
// notes on avoiding owning references in both directions): the graph
// owns membership in Nodes, and BackwardEdges/ForwardEdges are maps
// keyed by that same pointer identity rather than by value.
type Graph struct {
	Nodes         map[*ir.MLMI]bool
	BackwardEdges map[ir.Operand]*ir.MLMI   // Mem -> unique definer
	ForwardEdges  map[*ir.MLMI]map[*ir.MLMI]bool // MLMI -> users of any output
	ProgInputs    map[ir.Operand]bool
	ProgOutputs   []ir.Operand
	MemoryCount   int
}

// Build constructs the DFG of an MLIRProgram: backward_edges from
// every (instr, m in defs(instr)); for each instruction and each
// Mem-source not in prog_inputs, a forward edge from the definer to
// the instruction.
func Build(prog *ir.MLIRProgram) *Graph {
	g := &Graph{
		Nodes:         make(map[*ir.MLMI]bool, len(prog.Instrs)),
		BackwardEdges: make(map[ir.Operand]*ir.MLMI),
		ForwardEdges:  make(map[*ir.MLMI]map[*ir.MLMI]bool, len(prog.Instrs)),
		ProgInputs:    make(map[ir.Operand]bool, len(prog.Inputs)),
		ProgOutputs:   append([]ir.Operand(nil), prog.Outputs...),
		MemoryCount:   prog.MemoryCount,
	}
	for _, m := range prog.Inputs {
		g.ProgInputs[m] = true
	}
	for _, node := range prog.Instrs {
		g.Nodes[node] = true
		g.ForwardEdges[node] = make(map[*ir.MLMI]bool)
		for def := range node.Defs() {
			g.BackwardEdges[def] = node
		}
	}
	for _, node := range prog.Instrs {
		for src := range node.Uses() {
			if g.ProgInputs[src] {
				continue
			}
			def, ok := g.BackwardEdges[src]
			if !ok {
				continue
			}
			g.ForwardEdges[def][node] = true
		}
	}
	return g
}

// NextNodes returns the direct successors (users) of node.
func (g *Graph) NextNodes(node *ir.MLMI) map[*ir.MLMI]bool {
	return g.ForwardEdges[node]
}

// PrevNodes returns the direct predecessors (definers of node's
// inputs) of node.
func (g *Graph) PrevNodes(node *ir.MLMI) map[*ir.MLMI]bool {
	prevs := make(map[*ir.MLMI]bool)
	for _, m := range node.Inputs {
		if def, ok := g.BackwardEdges[m]; ok {
			prevs[def] = true
		}
	}
	return prevs
}

// OutputCount returns the number of distinct direct users of node.
func (g *Graph) OutputCount(node *ir.MLMI) int {
	return len(g.ForwardEdges[node])
}

// NewEmptyNode creates a fresh MLMI, registers it with the graph, and
// returns it. Callers still need to wire its inputs/outputs/edges.
func (g *Graph) NewEmptyNode() *ir.MLMI {
	n := ir.EmptyMLMI()
	g.Nodes[n] = true
	g.ForwardEdges[n] = make(map[*ir.MLMI]bool)
	return n
}

// AllocMem allocates a fresh Mem cell, per the single-definer (SSA)
// assumption: callers must never reassign an existing Mem.
func (g *Graph) AllocMem() ir.Operand {
	m := ir.Mem(g.MemoryCount)
	g.MemoryCount++
	return m
}

// CheckIntegrity verifies the DFG integrity invariant: for each node
// and each non-program-input Mem source, a backward edge must exist,
// the definer must forward-edge to the user, and every forward edge
// must correspond to at least one shared Mem.
func (g *Graph) CheckIntegrity() error {
	for node := range g.Nodes {
		for _, m := range node.Inputs {
			if g.ProgInputs[m] {
				continue
			}
			def, ok := g.BackwardEdges[m]
			if !ok {
				return fmt.Errorf("dfg: missing backward edge for memory %s", m)
			}
			if !g.ForwardEdges[def][node] {
				return fmt.Errorf("dfg: missing forward edge from def to use of %s", m)
			}
		}
		outs := toSet(node.Outputs)
		for next := range g.ForwardEdges[node] {
			if !anyShared(outs, next.Inputs) {
				return fmt.Errorf("dfg: erroneous forward edge with no shared operand")
			}
		}
	}
	return nil
}

func toSet(ops []ir.Operand) map[ir.Operand]bool {
	s := make(map[ir.Operand]bool, len(ops))
	for _, o := range ops {
		s[o] = true
	}
	return s
}

func anyShared(set map[ir.Operand]bool, ops []ir.Operand) bool {
	for _, o := range ops {
		if set[o] {
			return true
		}
	}
	return false
}
