package universalize

import (
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/oisee/obscurec/pkg/dfg"
	"github.com/oisee/obscurec/pkg/ir"
	"github.com/oisee/obscurec/pkg/routing"
)

// addDepthPadding pads layers with empty single-node layers until its
// length reaches config.Depth. A Depth smaller than the program's
// natural depth is ignored with a warning rather than truncating the
// program.
func addDepthPadding(g *dfg.Graph, layers *[][]*ir.MLMI, cfg Config, stats io.Writer) {
	depth := len(*layers)
	if cfg.Depth != 0 {
		if cfg.Depth < depth {
			fmt.Fprintf(os.Stderr, "Flag '-depth %d' was used, but the program has a depth of %d. Ignoring the -depth flag and continuing.\n", cfg.Depth, depth)
		} else {
			depth = cfg.Depth
		}
	}
	for i := len(*layers); i < depth; i++ {
		node := g.NewEmptyNode()
		*layers = append(*layers, []*ir.MLMI{node})
	}
}

// addInputMaskingLayer prepends a layer that copies every program
// input into a fresh Mem cell, so the permutation layer that follows
// the masking layer hides which physical input fed which consumer.
func addInputMaskingLayer(g *dfg.Graph, layers *[][]*ir.MLMI, cfg Config) {
	var initialLayer []*ir.MLMI
	oldToNew := make(map[ir.Operand]ir.Operand)
	oldInputs := make(map[ir.Operand]bool, len(g.ProgInputs))
	for m := range g.ProgInputs {
		oldInputs[m] = true
	}

	for len(oldInputs) != 0 {
		node := ir.EmptyMLMI()
		g.ForwardEdges[node] = make(map[*ir.MLMI]bool)
		initialLayer = append(initialLayer, node)
		for len(node.Inputs) < cfg.LIn && len(node.Outputs) < cfg.LOut && len(oldInputs) != 0 {
			m := anyOperand(oldInputs)
			delete(oldInputs, m)
			newInput := g.AllocMem()
			node.Inputs = append(node.Inputs, m)
			node.Outputs = append(node.Outputs, newInput)
			node.Seq.Instrs = append(node.Seq.Instrs, ir.NewHLI(ir.MOV, newInput, m, ir.Null, ir.Null))
			g.BackwardEdges[newInput] = node
			oldToNew[m] = newInput
		}
	}

	head := initialLayer[0]
	for len(head.Outputs) != cfg.LOut {
		out := g.AllocMem()
		head.Outputs = append(head.Outputs, out)
		head.Seq.Instrs = append(head.Seq.Instrs, ir.NewHLI(ir.MOV, out, ir.Imm(0), ir.Null, ir.Null))
		g.BackwardEdges[out] = head
	}

	for i, m := range g.ProgOutputs {
		if nm, ok := oldToNew[m]; ok {
			g.ProgOutputs[i] = nm
		}
	}

	// The masking nodes already have forward-edge sets but are not yet
	// registered in g.Nodes, so this rename pass (mirroring the
	// reference compiler) leaves their own .Inputs pointing at the real
	// program inputs.
	for n := range g.Nodes {
		for _, m := range n.Inputs {
			if newInput, ok := oldToNew[m]; ok {
				g.ForwardEdges[g.BackwardEdges[newInput]][n] = true
			}
		}
		for i, m := range n.Inputs {
			if nm, ok := oldToNew[m]; ok {
				n.Inputs[i] = nm
			}
		}
		for i := range n.Seq.Instrs {
			instr := &n.Seq.Instrs[i]
			if nm, ok := oldToNew[instr.Src1]; ok {
				instr.Src1 = nm
			}
			if nm, ok := oldToNew[instr.Src2]; ok {
				instr.Src2 = nm
			}
			if nm, ok := oldToNew[instr.Src3]; ok {
				instr.Src3 = nm
			}
		}
	}

	*layers = append([][]*ir.MLMI{initialLayer}, *layers...)
	for _, n := range initialLayer {
		g.Nodes[n] = true
	}
}

// propagateOutputsToLastLayer ensures every program output is only
// ever defined on the grid's final layer, by threading each output
// forward as an extra input/output pair on every intervening layer.
func propagateOutputsToLastLayer(g *dfg.Graph, layers *[][]*ir.MLMI, cfg Config) {
	addInputOutputToNode := func(m ir.Operand, node *ir.MLMI) ir.Operand {
		newOutput := g.AllocMem()
		node.Inputs = append(node.Inputs, m)
		node.Outputs = append(node.Outputs, newOutput)
		node.Seq.Instrs = append(node.Seq.Instrs, ir.NewHLI(ir.MOV, newOutput, m, ir.Null, ir.Null))
		defMNode := g.BackwardEdges[m]
		g.ForwardEdges[defMNode][node] = true
		g.BackwardEdges[newOutput] = node
		return newOutput
	}

	toTakeAsInputs := make(map[ir.Operand]bool)

	for layerIdx := 0; layerIdx < len(*layers); layerIdx++ {
		layer := (*layers)[layerIdx]
		newOutputs := make(map[ir.Operand]ir.Operand)
		for len(toTakeAsInputs) != 0 {
			m := anyOperand(toTakeAsInputs)
			delete(toTakeAsInputs, m)

			var node *ir.MLMI
			for _, mlmi := range layer {
				if len(mlmi.Inputs) < cfg.LIn && len(mlmi.Outputs) < cfg.LOut && len(mlmi.Seq.Instrs) < cfg.S {
					node = mlmi
					break
				}
			}
			if node == nil {
				node = g.NewEmptyNode()
				(*layers)[layerIdx] = append((*layers)[layerIdx], node)
				layer = (*layers)[layerIdx]
			}

			newOutputs[m] = addInputOutputToNode(m, node)
		}

		for i, m := range g.ProgOutputs {
			if nm, ok := newOutputs[m]; ok {
				g.ProgOutputs[i] = nm
			}
		}

		progOutputsSet := toSetOperand(g.ProgOutputs)
		toTakeAsInputs = make(map[ir.Operand]bool)
		for _, mlmi := range layer {
			for _, m := range mlmi.Outputs {
				if progOutputsSet[m] {
					toTakeAsInputs[m] = true
				}
			}
		}
	}

	var finalLayer []*ir.MLMI
	newOutputs := make(map[ir.Operand]ir.Operand)
	for len(toTakeAsInputs) != 0 {
		curr := g.NewEmptyNode()
		for len(curr.Inputs) < cfg.LIn && len(curr.Outputs) < cfg.LOut && len(curr.Seq.Instrs) < cfg.S && len(toTakeAsInputs) != 0 {
			m := anyOperand(toTakeAsInputs)
			delete(toTakeAsInputs, m)
			newOutputs[m] = addInputOutputToNode(m, curr)
		}
		finalLayer = append(finalLayer, curr)
	}

	for i, m := range g.ProgOutputs {
		if nm, ok := newOutputs[m]; ok {
			g.ProgOutputs[i] = nm
		}
	}

	*layers = append(*layers, finalLayer)
}

// equalizeLayers pads every interior layer with empty nodes so they
// all share the widest layer's node count (or config.Width, if large
// enough).
func equalizeLayers(g *dfg.Graph, layers *[][]*ir.MLMI, cfg Config, stats io.Writer) {
	ls := *layers
	if len(ls) <= 2 {
		return
	}

	maxWidth := -1
	for _, layer := range ls[1 : len(ls)-1] {
		if len(layer) > maxWidth {
			maxWidth = len(layer)
		}
	}

	if cfg.Width != 0 {
		if cfg.Width < maxWidth {
			fmt.Fprintf(os.Stderr, "Flag '-width %d' was used, but the program has a width of %d. Ignoring the -width flag and continuing.\n", cfg.Width, maxWidth)
		} else {
			maxWidth = cfg.Width
		}
	}
	if stats != nil {
		fmt.Fprintf(stats, "  program width: %d\n", maxWidth)
	}

	for i := 1; i < len(ls)-1; i++ {
		for len(ls[i]) < maxWidth {
			mlmi := g.NewEmptyNode()
			ls[i] = append(ls[i], mlmi)
		}
	}
}

// matchLayersInputsOutputs pads every interior MLMI to exactly
// config.LIn inputs (drawn from the previous layer's outputs, chosen
// uniformly since the coming permutation layer makes every input
// dataflow-equivalent) and config.LOut outputs (preferring unreturned
// intermediates over manufactured zero constants).
func matchLayersInputsOutputs(g *dfg.Graph, layers *[][]*ir.MLMI, cfg Config, rng *rand.Rand) {
	ls := *layers
	if len(ls) == 0 {
		return
	}
	prevLayerOutputs := uniqueOperands(flattenOutputs(ls[0]))

	for layerIdx := 1; layerIdx < len(ls)-1; layerIdx++ {
		layer := ls[layerIdx]

		for _, mlmi := range layer {
			for len(mlmi.Inputs) != cfg.LIn {
				newInput := prevLayerOutputs[rng.Intn(len(prevLayerOutputs))]
				for containsOperand(mlmi.Inputs, newInput) {
					newInput = prevLayerOutputs[rng.Intn(len(prevLayerOutputs))]
				}
				mlmi.Inputs = append(mlmi.Inputs, newInput)
				defNode := g.BackwardEdges[newInput]
				g.ForwardEdges[defNode][mlmi] = true
			}
		}

		for _, mlmi := range layer {
			if len(mlmi.Outputs) != cfg.LOut {
				outSet := toSetOperand(mlmi.Outputs)
				possibleReturns := make(map[ir.Operand]bool)
				for _, hli := range mlmi.Seq.Instrs {
					if !outSet[hli.Dst] {
						possibleReturns[hli.Dst] = true
					}
				}
				for len(mlmi.Outputs) != cfg.LOut {
					if len(possibleReturns) != 0 {
						newOutput := anyOperand(possibleReturns)
						delete(possibleReturns, newOutput)
						mlmi.Outputs = append(mlmi.Outputs, newOutput)
						g.BackwardEdges[newOutput] = mlmi
					} else {
						newOutput := g.AllocMem()
						mlmi.Seq.Instrs = append(mlmi.Seq.Instrs, ir.NewHLI(ir.MOV, newOutput, ir.Imm(0), ir.Null, ir.Null))
						mlmi.Outputs = append(mlmi.Outputs, newOutput)
						g.BackwardEdges[newOutput] = mlmi
					}
				}
			}
		}

		prevLayerOutputs = uniqueOperands(flattenOutputs(layer))
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// addPermutation inserts, between every pair of adjacent layers, a
// BDBFuncMI-compiled permutation network realizing exactly the wiring
// needed to route the previous layer's outputs onto the next layer's
// inputs — so the grid's own shape never betrays that wiring.
func addPermutation(g *dfg.Graph, layers *[][]*ir.MLMI, cfg Config) error {
	ls := *layers
	le := routing.Log2Exact(cfg.LIn)

	for i := 0; i < len(ls)-1; i++ {
		beforeLayer := ls[i]
		afterLayer := ls[i+1]

		var inputs []ir.Operand
		for _, mlmi := range beforeLayer {
			inputs = append(inputs, mlmi.Outputs...)
		}
		var outputs []ir.Operand
		for _, mlmi := range afterLayer {
			outputs = append(outputs, mlmi.Inputs...)
		}

		for _, mlmi := range beforeLayer {
			g.ForwardEdges[mlmi] = make(map[*ir.MLMI]bool)
		}

		permLayerSize := nextPow2(len(inputs))
		if o := nextPow2(len(outputs)); o > permLayerSize {
			permLayerSize = o
		}

		inputsPos := make(map[ir.Operand]int, len(inputs))
		for idx, m := range inputs {
			inputsPos[m] = idx
		}

		permOutputs := make([]int, len(outputs), permLayerSize)
		for idx, m := range outputs {
			permOutputs[idx] = inputsPos[m]
		}
		for len(permOutputs) < permLayerSize {
			permOutputs = append(permOutputs, 0)
		}

		curInputs := make([]ir.Operand, len(inputs), permLayerSize)
		copy(curInputs, inputs)
		for len(curInputs) < permLayerSize {
			curInputs = append(curInputs, ir.Imm(0))
		}

		bf := routing.NewBDBFuncMI(permOutputs, le)
		perm := routing.Optimize(bf.Canonical())

		curChecker := make([]int, len(curInputs))
		for idx := range curChecker {
			curChecker[idx] = idx
		}

		applySecretPerm := func(off int, p routing.OffsetSecretShuffle) {
			newVals := append([]ir.Operand(nil), curInputs...)
			newChecker := append([]int(nil), curChecker...)
			node := g.NewEmptyNode()

			for _, m := range curInputs[off : off+p.Perm.N()] {
				if m.IsMem() {
					node.Inputs = append(node.Inputs, m)
				}
			}
			for i, idx := range p.Perm.Values {
				out := g.AllocMem()
				prev := curInputs[off+idx]
				node.Seq.Instrs = append(node.Seq.Instrs, ir.NewHLI(ir.MOV, out, prev, ir.Null, ir.Null))
				node.Outputs = append(node.Outputs, out)
				newVals[off+i] = out
				newChecker[off+i] = curChecker[off+idx]
				g.BackwardEdges[out] = node
			}

			for _, m := range node.Inputs {
				if def, ok := g.BackwardEdges[m]; ok {
					g.ForwardEdges[def][node] = true
				}
			}

			copy(curInputs, newVals)
			copy(curChecker, newChecker)
		}

		for _, row := range perm {
			switch r := row.(type) {
			case routing.PublicShuffle:
				curInputs = routing.ApplyIndices(r.Shuffle, curInputs)
				curChecker = routing.ApplyIndices(r.Shuffle, curChecker)
			case routing.SecretShuffles:
				for _, pair := range r {
					applySecretPerm(pair.Offset, pair)
				}
			}
		}

		if !intSliceEqual(permOutputs, curChecker) {
			return fmt.Errorf("universalize: permutation self-check failed between layers %d and %d: target %v got %v", i, i+1, permOutputs, curChecker)
		}

		off := 0
		for _, mlmi := range afterLayer {
			oldToNew := make(map[ir.Operand]ir.Operand, len(mlmi.Inputs))
			for idx, oldM := range mlmi.Inputs {
				newM := curInputs[off+idx]
				g.ForwardEdges[g.BackwardEdges[newM]][mlmi] = true
				oldToNew[oldM] = newM
				mlmi.Inputs[idx] = newM
			}
			for idx := range mlmi.Seq.Instrs {
				instr := &mlmi.Seq.Instrs[idx]
				if nm, ok := oldToNew[instr.Src1]; ok {
					instr.Src1 = nm
				}
				if nm, ok := oldToNew[instr.Src2]; ok {
					instr.Src2 = nm
				}
				if nm, ok := oldToNew[instr.Src3]; ok {
					instr.Src3 = nm
				}
			}
			off += len(mlmi.Inputs)
		}
	}
	return nil
}

// Universalize reshapes g into a fixed-shape, fixed-depth,
// permutation-screened grid. config.LIn must equal config.LOut and
// both must be powers of two (the width of a single routing MI). The
// returned layers are the grid's final row grouping (head masking
// layer, interior rows each exactly cfg.LIn-in/cfg.LOut-out and
// equal-width, tail output layer), exposed for shape verification.
func Universalize(g *dfg.Graph, cfg Config, rng *rand.Rand, stats io.Writer) ([][]*ir.MLMI, error) {
	if cfg.LIn != cfg.LOut {
		return nil, fmt.Errorf("universalize: l_in (%d) must equal l_out (%d)", cfg.LIn, cfg.LOut)
	}
	if nextPow2(cfg.LIn) != cfg.LIn {
		return nil, fmt.Errorf("universalize: l_in must be a power of two, got %d", cfg.LIn)
	}

	layers := Rectangularize(g, cfg)

	if stats != nil {
		if cfg.Depth == 0 || cfg.Depth <= len(layers) {
			fmt.Fprintf(stats, "  program depth: %d\n", len(layers))
		} else {
			fmt.Fprintf(stats, "  program initial depth: %d\n", len(layers))
			fmt.Fprintf(stats, "  program final depth: %d\n", cfg.Depth)
		}
	}

	addDepthPadding(g, &layers, cfg, stats)
	addInputMaskingLayer(g, &layers, cfg)
	propagateOutputsToLastLayer(g, &layers, cfg)
	equalizeLayers(g, &layers, cfg, stats)
	matchLayersInputsOutputs(g, &layers, cfg, rng)

	if stats != nil {
		fmt.Fprintf(stats, "  MLIR size: %d MLMIs\n", len(g.Nodes))
	}

	if err := addPermutation(g, &layers, cfg); err != nil {
		return nil, err
	}

	if err := g.CheckIntegrity(); err != nil {
		return nil, err
	}
	return layers, nil
}
