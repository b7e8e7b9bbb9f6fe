// Package universalize reshapes a clusterized DFG into a fixed-shape,
// fixed-depth grid of MLMIs — the public topology a secure element's
// bytecode stream is allowed to reveal — then inserts permutation
// layers so the actual dataflow edges stay hidden behind the grid's
// regular wiring (component F).
package universalize

import (
	"github.com/oisee/obscurec/pkg/dfg"
	"github.com/oisee/obscurec/pkg/ir"
)

// Config bounds the universalized grid and the merges that preceded
// it. Width/Depth of 0 mean "use whatever the program naturally
// needs"; a nonzero value too small for the program is a no-op with a
// warning, never a hard failure.
type Config struct {
	LIn, LOut, R, S int
	Width, Depth    int
}

func anyOperand(set map[ir.Operand]bool) ir.Operand {
	for m := range set {
		return m
	}
	return ir.Null
}

func toSetOperand(ops []ir.Operand) map[ir.Operand]bool {
	s := make(map[ir.Operand]bool, len(ops))
	for _, o := range ops {
		s[o] = true
	}
	return s
}

func containsOperand(ops []ir.Operand, target ir.Operand) bool {
	for _, o := range ops {
		if o == target {
			return true
		}
	}
	return false
}

func uniqueOperands(ops []ir.Operand) []ir.Operand {
	seen := make(map[ir.Operand]bool, len(ops))
	var out []ir.Operand
	for _, o := range ops {
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out
}

func flattenOutputs(nodes []*ir.MLMI) []ir.Operand {
	var out []ir.Operand
	for _, n := range nodes {
		out = append(out, n.Outputs...)
	}
	return out
}

// layerize assigns every node the smallest layer index greater than
// all its predecessors' layers (a longest-path labeling), assuming g
// is acyclic and every non-program-input source has a definer.
func layerize(g *dfg.Graph) (map[*ir.MLMI]int, [][]*ir.MLMI) {
	nodeLayers := make(map[*ir.MLMI]int, len(g.Nodes))
	toVisit := make(map[*ir.MLMI]bool, len(g.Nodes))
	for n := range g.Nodes {
		toVisit[n] = true
	}

	lastLayer := 0
	for len(toVisit) != 0 {
		toRemove := make(map[*ir.MLMI]bool)
		for node := range toVisit {
			layer := 0
			ready := true
			for prev := range g.PrevNodes(node) {
				if pl, ok := nodeLayers[prev]; ok {
					if pl+1 > layer {
						layer = pl + 1
					}
				} else {
					ready = false
					break
				}
			}
			if ready {
				if layer > lastLayer {
					lastLayer = layer
				}
				nodeLayers[node] = layer
				toRemove[node] = true
			}
		}
		for n := range toRemove {
			delete(toVisit, n)
		}
	}

	layers := make([][]*ir.MLMI, lastLayer+1)
	for node, layer := range nodeLayers {
		layers[layer] = append(layers[layer], node)
	}
	return nodeLayers, layers
}

// segregateLayers rewrites any edge that skips a layer so it instead
// routes through an intermediate-layer node: either an existing node
// with spare capacity, or a freshly created one. Edges are processed
// from the last layer backward so downstream rewrites never need to
// be revisited.
func segregateLayers(g *dfg.Graph, nodeLayers map[*ir.MLMI]int, layers [][]*ir.MLMI, cfg Config) {
	altDefs := make(map[ir.Operand]map[int]ir.Operand)

	hasAlternativeDef := func(m ir.Operand, layer int) (ir.Operand, bool) {
		if byLayer, ok := altDefs[m]; ok {
			if v, ok2 := byLayer[layer]; ok2 {
				return v, true
			}
		}
		return ir.Null, false
	}

	replaceInput := func(node *ir.MLMI, oldM, newM ir.Operand) {
		for i, m := range node.Inputs {
			if m == oldM {
				node.Inputs[i] = newM
			}
		}
		for i := range node.Seq.Instrs {
			instr := &node.Seq.Instrs[i]
			if instr.Src1 == oldM {
				instr.Src1 = newM
			}
			if instr.Src2 == oldM {
				instr.Src2 = newM
			}
			if instr.Src3 == oldM {
				instr.Src3 = newM
			}
		}
	}

	makeAlternative := func(oldM ir.Operand, node *ir.MLMI, layer int) ir.Operand {
		newM := g.AllocMem()
		if altDefs[oldM] == nil {
			altDefs[oldM] = make(map[int]ir.Operand)
		}
		altDefs[oldM][layer] = newM

		g.BackwardEdges[newM] = node
		node.Outputs = append(node.Outputs, newM)
		if !containsOperand(node.Inputs, oldM) {
			node.Inputs = append(node.Inputs, oldM)
			if !g.ProgInputs[oldM] {
				oldMDef := g.BackwardEdges[oldM]
				g.ForwardEdges[oldMDef][node] = true
			}
		}
		node.Seq.Instrs = append([]ir.HLI{ir.NewHLI(ir.MOV, newM, oldM, ir.Null, ir.Null)}, node.Seq.Instrs...)
		return newM
	}

	removeForwardEdgeIfNeeded := func(defNode, dstNode *ir.MLMI) {
		for _, m := range dstNode.Inputs {
			if containsOperand(defNode.Outputs, m) {
				return
			}
		}
		delete(g.ForwardEdges[defNode], dstNode)
	}

	var breakEdge func(defNode, dstNode *ir.MLMI, midLayer int, m ir.Operand)
	breakEdge = func(defNode, dstNode *ir.MLMI, midLayer int, m ir.Operand) {
		if altM, ok := hasAlternativeDef(m, midLayer); ok {
			altMDef := g.BackwardEdges[altM]
			g.ForwardEdges[altMDef][dstNode] = true
			replaceInput(dstNode, m, altM)
			if defNode != nil {
				removeForwardEdgeIfNeeded(defNode, dstNode)
			}
			return
		}

		var candidate *ir.MLMI
		for _, node := range layers[midLayer] {
			if len(node.Outputs) < cfg.LOut && len(node.Seq.Instrs) < cfg.S {
				if containsOperand(node.Inputs, m) {
					candidate = node
					break
				} else if len(node.Inputs) < cfg.LIn {
					candidate = node
				}
			}
		}

		var node *ir.MLMI
		if candidate != nil {
			node = candidate
		} else {
			node = g.NewEmptyNode()
			nodeLayers[node] = midLayer
			layers[midLayer] = append(layers[midLayer], node)
		}

		altM := makeAlternative(m, node, midLayer)
		replaceInput(dstNode, m, altM)
		g.ForwardEdges[node][dstNode] = true

		if defNode != nil {
			removeForwardEdgeIfNeeded(defNode, dstNode)
			g.ForwardEdges[defNode][node] = true
		}
	}

	for i := 0; i < len(layers); i++ {
		currLayerIdx := len(layers) - i - 1
		if currLayerIdx == 0 {
			continue
		}
		currLayer := layers[currLayerIdx]
		for _, node := range currLayer {
			for _, m := range append([]ir.Operand(nil), node.Inputs...) {
				var defPoint *ir.MLMI
				defLayerIdx := -1
				if g.ProgInputs[m] {
					defPoint = nil
				} else {
					defPoint = g.BackwardEdges[m]
					defLayerIdx = nodeLayers[defPoint]
				}
				if defLayerIdx != currLayerIdx-1 {
					breakEdge(defPoint, node, currLayerIdx-1, m)
				}
			}
		}
	}
}

// Rectangularize labels every node with a layer and removes any edge
// that skips a layer.
func Rectangularize(g *dfg.Graph, cfg Config) [][]*ir.MLMI {
	nodeLayers, layers := layerize(g)
	segregateLayers(g, nodeLayers, layers, cfg)
	return layers
}
