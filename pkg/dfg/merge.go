package dfg

import "github.com/oisee/obscurec/pkg/ir"

// CheckDominationForMerge reports whether n1 and n2 can be merged
// without creating a cycle: neither may transitively reach the other
// via a path that does not start with the direct edge between them.
// Implemented by forward BFS from n1 (skipping the direct edge to
// n2), then symmetrically from n2.
func (g *Graph) CheckDominationForMerge(n1, n2 *ir.MLMI) bool {
	for _, pair := range [2][2]*ir.MLMI{{n1, n2}, {n2, n1}} {
		start, end := pair[0], pair[1]
		toVisit := make(map[*ir.MLMI]bool)
		for n := range g.NextNodes(start) {
			if n != end {
				toVisit[n] = true
			}
		}
		visited := make(map[*ir.MLMI]bool)
		for len(toVisit) > 0 {
			var n *ir.MLMI
			for k := range toVisit {
				n = k
				break
			}
			delete(toVisit, n)
			if visited[n] {
				continue
			}
			if n == end {
				return false
			}
			visited[n] = true
			for next := range g.NextNodes(n) {
				toVisit[next] = true
			}
		}
	}
	return true
}

// ComputeMergedInputs computes (inputs(n1) ∪ inputs(n2)) −
// (outputs(n1) ∪ outputs(n2)).
func (g *Graph) ComputeMergedInputs(n1, n2 *ir.MLMI) []ir.Operand {
	outs := toSet(n1.Outputs)
	for o := range toSet(n2.Outputs) {
		outs[o] = true
	}
	seen := make(map[ir.Operand]bool)
	var merged []ir.Operand
	for _, ins := range [2][]ir.Operand{n1.Inputs, n2.Inputs} {
		for _, m := range ins {
			if outs[m] || seen[m] {
				continue
			}
			seen[m] = true
			merged = append(merged, m)
		}
	}
	return merged
}

// ComputeMergedOutputs keeps each output o of either node iff it is
// not consumed by the other node, or it is consumed elsewhere (>=1
// other user, or it is a program output). Locally-consumed outputs
// are dropped (they become internal to the merged MI).
func (g *Graph) ComputeMergedOutputs(n1, n2 *ir.MLMI) []ir.Operand {
	progOutputs := toSet(g.ProgOutputs)
	seen := make(map[ir.Operand]bool)
	var outputs []ir.Operand

	add := func(o ir.Operand) {
		if !seen[o] {
			seen[o] = true
			outputs = append(outputs, o)
		}
	}

	type pair struct{ first, second *ir.MLMI }
	for _, p := range [2]pair{{n1, n2}, {n2, n1}} {
		sInputs := toSet(p.second.Inputs)
		for _, o := range p.first.Outputs {
			if sInputs[o] {
				useCount := 0
				for next := range g.NextNodes(p.first) {
					if containsOperand(next.Inputs, o) {
						useCount++
					}
				}
				if progOutputs[o] {
					useCount++
				}
				if useCount > 1 {
					add(o)
				}
			} else {
				add(o)
			}
		}
	}
	return outputs
}

func containsOperand(ops []ir.Operand, target ir.Operand) bool {
	for _, o := range ops {
		if o == target {
			return true
		}
	}
	return false
}

// ComputeMergedInstrs unions the two sequences, then topologically
// schedules them by repeatedly emitting any instruction whose Mem
// sources are already defined (seeded with mergedInputs). Ordering
// within a ready-set is unspecified: this function is
// non-deterministic by contract. Callers must treat the result as one
// possible valid schedule and must not re-invoke it to "retry".
func (g *Graph) ComputeMergedInstrs(n1, n2 *ir.MLMI, mergedInputs []ir.Operand) ir.MLS {
	toSchedule := append(append([]ir.HLI(nil), n1.Seq.Instrs...), n2.Seq.Instrs...)
	defined := toSet(mergedInputs)

	var instrs []ir.HLI
	for len(toSchedule) > 0 {
		var remaining []ir.HLI
		for _, instr := range toSchedule {
			ready := true
			for _, src := range [3]ir.Operand{instr.Src1, instr.Src2, instr.Src3} {
				if src.IsMem() && !defined[src] {
					ready = false
					break
				}
			}
			if !ready {
				remaining = append(remaining, instr)
				continue
			}
			defined[instr.Dst] = true
			instrs = append(instrs, instr)
		}
		if len(remaining) == len(toSchedule) {
			// Nothing became ready this round: the inputs given can
			// never satisfy every source. Bail out rather than loop
			// forever; callers are expected to have validated inputs.
			instrs = append(instrs, remaining...)
			break
		}
		toSchedule = remaining
	}
	return ir.MLS{Instrs: instrs}
}

// MergeNodes replaces n1 and n2 with a new MLMI whose inputs/outputs/
// seq are the merged values, re-pointing all forward/backward edges.
// Pre-conditions (capacity, acyclicity) are not rechecked here; call
// CheckDominationForMerge and the clusterizer's own constraints first.
// If seq is nil, ComputeMergedInstrs computes one (non-deterministically).
func (g *Graph) MergeNodes(n1, n2 *ir.MLMI, seq *ir.MLS) *ir.MLMI {
	inputs := g.ComputeMergedInputs(n1, n2)
	outputs := g.ComputeMergedOutputs(n1, n2)
	var mls ir.MLS
	if seq != nil {
		mls = *seq
	} else {
		mls = g.ComputeMergedInstrs(n1, n2, inputs)
	}

	merged := &ir.MLMI{Seq: mls, Inputs: inputs, Outputs: outputs}

	delete(g.Nodes, n1)
	delete(g.Nodes, n2)
	g.Nodes[merged] = true

	definedInMerged := merged.Defs()
	usedInMerged := merged.Uses()

	// Remove out-dated forward edges first (before backward edges move).
	for src := range usedInMerged {
		if g.ProgInputs[src] {
			continue
		}
		if def, ok := g.BackwardEdges[src]; ok {
			delete(g.ForwardEdges[def], n1)
			delete(g.ForwardEdges[def], n2)
		}
	}

	newForward := make(map[*ir.MLMI]bool)
	for use := range g.ForwardEdges[n1] {
		if use != n2 {
			newForward[use] = true
		}
	}
	for use := range g.ForwardEdges[n2] {
		if use != n1 {
			newForward[use] = true
		}
	}
	g.ForwardEdges[merged] = newForward

	for v := range definedInMerged {
		g.BackwardEdges[v] = merged
	}

	delete(g.ForwardEdges, n1)
	delete(g.ForwardEdges, n2)

	for src := range usedInMerged {
		if g.ProgInputs[src] {
			continue
		}
		if def, ok := g.BackwardEdges[src]; ok {
			g.ForwardEdges[def][merged] = true
		}
	}

	return merged
}
