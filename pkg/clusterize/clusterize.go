// Package clusterize groups single HLIR instructions into
// multi-instructions by repeatedly merging DFG nodes, subject to the
// token's capacity bounds (component D).
package clusterize

import (
	"fmt"
	"io"

	"github.com/oisee/obscurec/pkg/dfg"
	"github.com/oisee/obscurec/pkg/ir"
	"github.com/oisee/obscurec/pkg/regalloc"
)

// Config bounds every merge decision and selects which search strategy
// each pass uses.
type Config struct {
	LIn, LOut, R, S int

	// SimpleClusterizer switches passes 1 and 2 from rescanning every
	// node on each round to a worklist seeded with every node and
	// refilled with the neighbours of each merged node, trading merge
	// quality for speed on larger programs.
	SimpleClusterizer bool

	// Fast makes the rescanning forms of passes 2 and 3 skip nodes that
	// have already been found to have no viable merge partner, instead
	// of re-examining every node on every iteration. In simple mode it
	// instead stops pass 2 from re-queueing the neighbours of a merged
	// node.
	Fast bool
}

func anyNode(set map[*ir.MLMI]bool) *ir.MLMI {
	for n := range set {
		return n
	}
	return nil
}

// mergeScore returns (-1, nil) for an illegal merge, or the number of
// inputs+outputs the merge would remove together with the schedule
// that achieves it. Checks are ordered cheapest-first so illegal
// merges bail out before the expensive domination check runs.
func mergeScore(g *dfg.Graph, cfg Config, n1, n2 *ir.MLMI) (int, *ir.MLS) {
	if len(n1.Seq.Instrs)+len(n2.Seq.Instrs) > cfg.S {
		return -1, nil
	}
	mergedInputs := g.ComputeMergedInputs(n1, n2)
	if len(mergedInputs) > cfg.LIn {
		return -1, nil
	}
	mergedOutputs := g.ComputeMergedOutputs(n1, n2)
	if len(mergedOutputs) > cfg.LOut {
		return -1, nil
	}
	mergedInstrs := g.ComputeMergedInstrs(n1, n2, mergedInputs)
	if !regalloc.FitsWithin(mergedInstrs.Instrs, mergedInputs, mergedOutputs, cfg.R, cfg.LOut) {
		return -1, nil
	}
	if !g.CheckDominationForMerge(n1, n2) {
		return -1, nil
	}

	score := len(n1.Inputs) + len(n2.Inputs) - len(mergedInputs) +
		len(n1.Outputs) + len(n2.Outputs) - len(mergedOutputs)
	return score, &mergedInstrs
}

// mergeOneOutputNodes implements pass 1: fuse any node with exactly
// one output into its sole consumer, repeating to a fixpoint.
func mergeOneOutputNodes(g *dfg.Graph, cfg Config) {
	shouldMergeWithNext := func(node *ir.MLMI) (*ir.MLMI, *ir.MLS, bool) {
		if g.OutputCount(node) != 1 {
			return nil, nil, false
		}
		next := anyNode(g.NextNodes(node))
		mergedInputs := g.ComputeMergedInputs(node, next)
		if len(mergedInputs) > cfg.LIn {
			return nil, nil, false
		}
		if len(node.Seq.Instrs)+len(next.Seq.Instrs) > cfg.S {
			return nil, nil, false
		}
		mergedInstrs := g.ComputeMergedInstrs(node, next, mergedInputs)
		mergedOutputs := g.ComputeMergedOutputs(node, next)
		if !regalloc.FitsWithin(mergedInstrs.Instrs, mergedInputs, mergedOutputs, cfg.R, cfg.LOut) {
			return nil, nil, false
		}
		return next, &mergedInstrs, true
	}

	if cfg.SimpleClusterizer {
		toVisit := make(map[*ir.MLMI]bool, len(g.Nodes))
		for n := range g.Nodes {
			toVisit[n] = true
		}
		for len(toVisit) != 0 {
			candidate := anyNode(toVisit)
			delete(toVisit, candidate)
			next, seq, ok := shouldMergeWithNext(candidate)
			if !ok {
				continue
			}
			newNode := g.MergeNodes(candidate, next, seq)
			for n := range g.NextNodes(newNode) {
				toVisit[n] = true
			}
			for n := range g.PrevNodes(newNode) {
				toVisit[n] = true
			}
			toVisit[newNode] = true
		}
		return
	}

	for {
		var candidate *ir.MLMI
		var next *ir.MLMI
		var seq *ir.MLS
		for n := range g.Nodes {
			if c, s, ok := shouldMergeWithNext(n); ok {
				candidate, next, seq = n, c, s
				break
			}
		}
		if candidate == nil {
			return
		}
		g.MergeNodes(candidate, next, seq)
	}
}

// mergeParentsChildren implements pass 2: repeatedly find the best
// scoring parent/child pair and merge it.
func mergeParentsChildren(g *dfg.Graph, cfg Config) {
	if cfg.SimpleClusterizer {
		toVisit := make(map[*ir.MLMI]bool, len(g.Nodes))
		for n := range g.Nodes {
			toVisit[n] = true
		}
		for len(toVisit) != 0 {
			n1 := anyNode(toVisit)
			delete(toVisit, n1)

			var bestNode *ir.MLMI
			bestScore := -1
			var bestMLS *ir.MLS
			for n2 := range g.NextNodes(n1) {
				score, mls := mergeScore(g, cfg, n1, n2)
				if score > bestScore {
					bestNode, bestScore, bestMLS = n2, score, mls
				}
			}
			if bestScore == -1 {
				continue
			}

			newNode := g.MergeNodes(n1, bestNode, bestMLS)
			if !cfg.Fast {
				for n := range g.NextNodes(newNode) {
					toVisit[n] = true
				}
				for n := range g.PrevNodes(newNode) {
					toVisit[n] = true
				}
				toVisit[newNode] = true
			}
		}
		return
	}

	toSkip := make(map[*ir.MLMI]bool)
	for {
		var c1, c2 *ir.MLMI
		var mls *ir.MLS
		globalBest := -1
		for n1 := range g.Nodes {
			if cfg.Fast && toSkip[n1] {
				continue
			}
			var bestNode *ir.MLMI
			bestScore := -1
			var bestMLS *ir.MLS
			for n2 := range g.NextNodes(n1) {
				score, m := mergeScore(g, cfg, n1, n2)
				if score > bestScore {
					bestNode, bestScore, bestMLS = n2, score, m
				}
			}
			if bestScore > globalBest {
				c1, c2, mls, globalBest = n1, bestNode, bestMLS, bestScore
			} else if bestScore == -1 && cfg.Fast {
				toSkip[n1] = true
			}
		}
		if c1 == nil {
			return
		}
		g.MergeNodes(c1, c2, mls)
	}
}

// mergeSiblings implements pass 3: merge pairs of nodes that share a
// direct parent when it scores strictly positive.
func mergeSiblings(g *dfg.Graph, cfg Config) {
	toSkip := make(map[*ir.MLMI]bool)
	merged := true
	for merged {
		merged = false
		for parent := range g.Nodes {
			if cfg.Fast && toSkip[parent] {
				continue
			}
			var children []*ir.MLMI
			for c := range g.NextNodes(parent) {
				children = append(children, c)
			}

			var c1, c2 *ir.MLMI
			bestScore := -1
			var bestMLS *ir.MLS
			for i1 := 0; i1 < len(children); i1++ {
				for i2 := i1 + 1; i2 < len(children); i2++ {
					score, mls := mergeScore(g, cfg, children[i1], children[i2])
					if score > bestScore {
						bestScore, c1, c2, bestMLS = score, children[i1], children[i2], mls
					}
				}
			}
			if bestScore > 0 {
				g.MergeNodes(c1, c2, bestMLS)
				merged = true
				break
			} else if cfg.Fast {
				toSkip[parent] = true
			}
		}
	}
}

// Clusterize runs the three passes over the initial one-MLMI-per-HLI
// graph of hlir and returns the resulting DFG. If stats is non-nil,
// before/after input+output/instruction counts are written to it.
func Clusterize(hlir *ir.HLIRProgram, cfg Config, stats io.Writer) *dfg.Graph {
	g := dfg.Build(ir.InitialMLIR(hlir))

	if stats != nil {
		printClusterStats(stats, g, "Before clusterization")
	}

	mergeOneOutputNodes(g, cfg)
	mergeParentsChildren(g, cfg)
	mergeSiblings(g, cfg)

	if stats != nil {
		printClusterStats(stats, g, "After clusterization")
	}

	return g
}

func printClusterStats(w io.Writer, g *dfg.Graph, label string) {
	inOutCount := 0
	for n := range g.Nodes {
		inOutCount += len(n.Inputs) + len(n.Outputs)
	}
	fmt.Fprintf(w, "%s: %d inputs/outputs, %d instructions.\n", label, inOutCount, len(g.Nodes))
}
