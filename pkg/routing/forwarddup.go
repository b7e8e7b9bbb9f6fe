package routing

// ForwardDup realizes non-injective output by copying each position's
// value forward from its predecessor whenever the two already agree
// in the target function (a single flag bit per position).
type ForwardDup struct {
	Col []bool
}

// NewForwardDup derives the copy-forward flags that turn the identity
// into f, assuming f[i] only ever duplicates its immediate
// predecessor's eventual value (the shape BDBFunc's dup-permutation
// construction guarantees).
func NewForwardDup(f []int) *ForwardDup {
	col := make([]bool, len(f)-1)
	for i := 1; i < len(f); i++ {
		col[i-1] = f[i] == f[i-1]
	}
	return &ForwardDup{Col: col}
}

func (d *ForwardDup) Apply(f []int) []int {
	out := append([]int(nil), f...)
	for i, flag := range d.Col {
		if flag {
			out[i+1] = out[i]
		}
	}
	return out
}

func cleanF(f []int) []int {
	ff := make([]int, len(f))
	for i := 1; i < len(f); i++ {
		if f[i] == f[i-1] {
			ff[i] = ff[i-1]
		} else {
			ff[i] = i
		}
	}
	return ff
}

// ForwardDupMI is ForwardDup grouped into overlapping MI-sized windows
// (each window starts on the previous window's last position, so that
// duplication across a window boundary is still representable).
type ForwardDupMI struct {
	F                                    []int
	Le, L, N                             int
	Cols                                 []SecretShuffles
	LastCompileMICount, LastApplyMICount int
}

// NewForwardDupMI compiles f into windows of width 2^le, each
// overlapping the previous one by one position (the last window is cut
// short at the end of f).
func NewForwardDupMI(f []int, le int) *ForwardDupMI {
	d := &ForwardDupMI{F: append([]int(nil), f...), Le: le, L: 1 << uint(le), N: len(f)}
	d.compile()
	return d
}

func (d *ForwardDupMI) compile() {
	m := Log2Exact(d.N)
	d.LastCompileMICount = 0

	if d.Le >= m {
		sub := cleanF(d.F)
		d.Cols = []SecretShuffles{{{Offset: 0, Perm: SecretShuffle{NewShuffleSized(sub, len(sub))}}}}
		d.LastCompileMICount = 1
		return
	}

	sub := cleanF(d.F[:d.L])
	cols := []SecretShuffles{{{Offset: 0, Perm: SecretShuffle{NewShuffleSized(sub, len(sub))}}}}
	d.LastCompileMICount++

	step := d.L - 1
	off := step
	for off < d.N-1 {
		end := off + step + 1
		if end > d.N {
			end = d.N
		}
		sub := cleanF(d.F[off:end])
		cols = append(cols, SecretShuffles{{Offset: off, Perm: SecretShuffle{NewShuffleSized(sub, len(sub))}}})
		d.LastCompileMICount++
		off += step
	}
	d.Cols = cols
}

func (d *ForwardDupMI) Apply(f []int) []int {
	d.LastApplyMICount = 0
	ff := append([]int(nil), f...)
	for _, sss := range d.Cols {
		for _, pair := range sss {
			n := pair.Perm.InputSize
			sub := append([]int(nil), ff[pair.Offset:pair.Offset+n]...)
			sub = pair.Perm.Apply(sub)
			copy(ff[pair.Offset:pair.Offset+len(sub)], sub)
			d.LastApplyMICount++
		}
	}
	return ff
}

// Canonical returns the compiled windows as a routing.Program.
func (d *ForwardDupMI) Canonical() Program {
	prog := make(Program, len(d.Cols))
	for i, c := range d.Cols {
		prog[i] = c
	}
	return prog
}
