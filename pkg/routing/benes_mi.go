package routing

// iCol pairs a Beneš control-bit column with the index bit it
// addresses, used while grouping the 2m-1 raw columns into
// le-bit-wide multi-instruction-sized blocks.
type iCol struct {
	IBit int
	Col  []int
}

// BenesPermMI compiles a permutation into a Beneš network, then groups
// its columns into multi-instructions of input/output size 2^le: a
// prefix/middle/suffix of le-wide column blocks, each realized as a
// public input shuffle, a row of parallel secret sub-permutations, and
// a public output shuffle.
type BenesPermMI struct {
	F                                    []int
	Le, L, N, M                          int
	Cols                                 Program
	LastCompileMICount, LastApplyMICount int
}

// NewBenesPermMI compiles f (a full permutation) grouped into MIs of
// width 2^le.
func NewBenesPermMI(f []int, le int) *BenesPermMI {
	bp := &BenesPermMI{F: append([]int(nil), f...), Le: le, L: 1 << uint(le), N: len(f), M: Log2Exact(len(f))}
	bp.compile()
	return bp
}

func (bp *BenesPermMI) compile() {
	bp.LastCompileMICount = 0
	if bp.Le >= bp.M {
		bp.LastCompileMICount = 1
		bp.Cols = Program{SecretShuffles{{Offset: 0, Perm: SecretShuffle{NewShuffle(bp.F)}}}}
		return
	}

	cols := NewBenesPerm(bp.F).Cols

	midl := bp.M - bp.Le
	midr := bp.M + bp.Le - 2

	icols := make([]iCol, len(cols))
	for i, col := range cols {
		icols[i] = iCol{IBit: min(i, 2*bp.M-2-i), Col: col}
	}

	var result Program

	for i := 0; i < midl; i += bp.Le {
		end := i + bp.Le
		if end > midl {
			end = midl
		}
		result = bp.compileBlock(result, icols[i:end], end-i)
	}

	result = bp.compileBlock(result, icols[midl:midr+1], bp.Le)

	for i := midr + 1; i < 2*bp.M-1; i += bp.Le {
		end := i + bp.Le
		if end > 2*bp.M-1 {
			end = 2*bp.M - 1
		}
		result = bp.compileBlock(result, icols[i:end], end-i)
	}

	bp.Cols = result
}

// compileBlock groups one block of icols into (input shuffle, secret
// permutation row, output shuffle) and folds it into result.
func (bp *BenesPermMI) compileBlock(result Program, block []iCol, width int) Program {
	shift := block[0].IBit
	for _, ic := range block {
		if ic.IBit < shift {
			shift = ic.IBit
		}
	}
	sink := MakeIndexROTL(bp.M, shift)
	lift := sink.Invert()

	mid := identity(bp.N)
	for _, ic := range block {
		mid = ApplyCol(mid, bp.M, ic.IBit, ic.Col)
	}
	midPS := sink.Compose(PublicShuffle{NewShuffle(mid)}).Compose(lift)

	window := 1 << uint(width)
	if l := 1 << uint(bp.Le); l > window {
		window = l
	}
	var pairs SecretShuffles
	for i := 0; i < bp.N; i += window {
		group := make([]int, window)
		for k := 0; k < window; k++ {
			group[k] = midPS.Values[i+k] - i
		}
		pairs = append(pairs, OffsetSecretShuffle{Offset: i, Perm: SecretShuffle{NewShuffle(group)}})
		bp.LastCompileMICount++
	}

	if len(result) > 0 {
		if last, ok := result[len(result)-1].(PublicShuffle); ok {
			result[len(result)-1] = lift.Compose(last)
		} else {
			result = append(result, lift)
		}
	} else {
		result = append(result, lift)
	}
	result = append(result, pairs)
	result = append(result, sink)
	return result
}

// Apply runs the compiled, MI-grouped network over f.
func (bp *BenesPermMI) Apply(f []int) []int {
	bp.LastApplyMICount = 0
	cur := append([]int(nil), f...)
	for _, row := range bp.Cols {
		switch r := row.(type) {
		case PublicShuffle:
			cur = r.Apply(cur)
		case SecretShuffles:
			var next []int
			off := 0
			for _, pair := range r {
				if pair.Offset != off {
					panic("routing: BenesPermMI SecretShuffles offsets must be contiguous")
				}
				sub := cur[off : off+pair.Perm.N()]
				next = append(next, pair.Perm.Apply(sub)...)
				off += pair.Perm.N()
				bp.LastApplyMICount++
			}
			cur = next
		}
	}
	return cur
}

// Canonical returns the compiled program as a routing.Program.
func (bp *BenesPermMI) Canonical() Program { return append(Program(nil), bp.Cols...) }
