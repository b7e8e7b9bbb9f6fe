package routing

// computeBDBPerms derives the three building blocks needed to realize
// an arbitrary (possibly non-injective) function f as input-permute,
// forward-duplicate, output-permute: pi routes every input to a slot
// holding its eventual output value (padding collisions with values
// absent from f so pi stays a full permutation), pif records which
// value landed in each pi slot (so the duplicate layer can fold
// collided slots together), and pi2 scatters the duplicated value back
// out to every position of f that wants it.
func computeBDBPerms(f []int) (pi, pif, pi2 []int) {
	n := len(f)

	pos := make(map[int][]int)
	var order []int
	for i, a := range f {
		if _, ok := pos[a]; !ok {
			order = append(order, a)
		}
		pos[a] = append(pos[a], i)
	}

	present := make([]bool, n)
	for _, a := range f {
		present[a] = true
	}
	var missing []int
	for v := 0; v < n; v++ {
		if !present[v] {
			missing = append(missing, v)
		}
	}

	start := make(map[int]int, len(order))
	for _, a := range order {
		c := len(pos[a])
		start[a] = len(pi)
		pi = append(pi, a)
		for i := 0; i < c; i++ {
			pif = append(pif, a)
		}
		for i := 0; i < c-1; i++ {
			v := missing[len(missing)-1]
			missing = missing[:len(missing)-1]
			pi = append(pi, v)
		}
	}

	pi2 = make([]int, n)
	cursor := make(map[int]int, len(start))
	for k, v := range start {
		cursor[k] = v
	}
	for i, a := range f {
		pi2[i] = cursor[a]
		cursor[a]++
	}
	return pi, pif, pi2
}

// BDBFunc realizes any function over a power-of-two domain (injective
// or not) as input-permutation, forward-duplication, output-
// permutation — without multi-instruction grouping.
type BDBFunc struct {
	F          []int
	N, M       int
	InputPerm  *BenesPerm
	OutputPerm *BenesPerm
	Dups       *ForwardDup
}

func NewBDBFunc(f []int) *BDBFunc {
	pi, pif, pi2 := computeBDBPerms(f)
	return &BDBFunc{
		F: append([]int(nil), f...), N: len(f), M: Log2Exact(len(f)),
		InputPerm: NewBenesPerm(pi), OutputPerm: NewBenesPerm(pi2), Dups: NewForwardDup(pif),
	}
}

func (b *BDBFunc) Apply(f []int) []int {
	out := b.InputPerm.Apply(f)
	out = b.Dups.Apply(out)
	out = b.OutputPerm.Apply(out)
	return out
}

// BDBFuncMI is BDBFunc grouped into multi-instructions of width 2^le:
// the routing realization of an arbitrary, possibly non-injective,
// function used by universalization's permutation layers.
type BDBFuncMI struct {
	F          []int
	Le, L, N, M int
	InputPerm  *BenesPermMI
	OutputPerm *BenesPermMI
	Dups       *ForwardDupMI
}

func NewBDBFuncMI(f []int, le int) *BDBFuncMI {
	pi, pif, pi2 := computeBDBPerms(f)
	return &BDBFuncMI{
		F: append([]int(nil), f...), Le: le, L: 1 << uint(le), N: len(f), M: Log2Exact(len(f)),
		InputPerm: NewBenesPermMI(pi, le), OutputPerm: NewBenesPermMI(pi2, le), Dups: NewForwardDupMI(pif, le),
	}
}

func (b *BDBFuncMI) Apply(f []int) []int {
	out := b.InputPerm.Apply(f)
	out = b.Dups.Apply(out)
	out = b.OutputPerm.Apply(out)
	return out
}

// Canonical concatenates the input-permutation, duplication, and
// output-permutation programs into one routing.Program.
func (b *BDBFuncMI) Canonical() Program {
	var res Program
	res = append(res, b.InputPerm.Canonical()...)
	res = append(res, b.Dups.Canonical()...)
	res = append(res, b.OutputPerm.Canonical()...)
	return res
}
