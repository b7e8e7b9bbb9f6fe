// Package routing implements Beneš permutation networks, the
// forward-duplication layer, and their composition (Beneš-Duplicates-
// Beneš) for realizing arbitrary functions — including non-injective
// ones — as a sequence of fixed-width multi-instruction-sized
// shuffles (component E).
package routing

import "fmt"

// Shuffle is a permutation with possible duplicates: Values[k] names
// which source index feeds output position k. InputSize is the width
// of the domain it was cut from, which may exceed len(Values) when the
// shuffle only rewires a window of a larger state.
type Shuffle struct {
	Values    []int
	InputSize int
}

// NewShuffle builds a Shuffle whose InputSize equals its own length.
func NewShuffle(values []int) Shuffle {
	return NewShuffleSized(values, len(values))
}

// NewShuffleSized builds a Shuffle over a domain of inputSize.
func NewShuffleSized(values []int, inputSize int) Shuffle {
	return Shuffle{Values: append([]int(nil), values...), InputSize: inputSize}
}

func (s Shuffle) N() int { return len(s.Values) }

func (s Shuffle) M() int { return Log2Exact(s.N()) }

// Compose returns a shuffle h where h[i] = s[g[i]].
func (s Shuffle) Compose(g Shuffle) Shuffle {
	out := make([]int, len(g.Values))
	for i, gi := range g.Values {
		out[i] = s.Values[gi]
	}
	return Shuffle{Values: out, InputSize: s.InputSize}
}

// Invert returns the inverse of a full (duplicate-free) permutation.
func (s Shuffle) Invert() Shuffle {
	ip := make([]int, len(s.Values))
	for i := range ip {
		ip[i] = -1
	}
	for i, j := range s.Values {
		ip[j] = i
	}
	for _, v := range ip {
		if v == -1 {
			panic("routing: Invert called on a non-bijective shuffle")
		}
	}
	return Shuffle{Values: ip, InputSize: s.InputSize}
}

// Apply returns a new slice where out[k] = pi[s.Values[k]]. A nil pi
// defaults to the identity of length s.N().
func (s Shuffle) Apply(pi []int) []int {
	if pi == nil {
		pi = identity(s.N())
	}
	out := make([]int, len(s.Values))
	for k, idx := range s.Values {
		out[k] = pi[idx]
	}
	return out
}

// PublicShuffle wraps a shuffle that is wired openly between
// multi-instructions (the attacker may observe it).
type PublicShuffle struct{ Shuffle }

func (s PublicShuffle) Compose(g PublicShuffle) PublicShuffle {
	return PublicShuffle{s.Shuffle.Compose(g.Shuffle)}
}

func (s PublicShuffle) Invert() PublicShuffle { return PublicShuffle{s.Shuffle.Invert()} }

func (s PublicShuffle) IsIdentity() bool {
	for i, v := range s.Values {
		if v != i {
			return false
		}
	}
	return true
}

// SecretShuffle wraps a shuffle realized inside a sealed
// multi-instruction body, invisible to anyone but the secure element.
type SecretShuffle struct{ Shuffle }

// OffsetSecretShuffle pairs a SecretShuffle with the state offset it
// rewires.
type OffsetSecretShuffle struct {
	Offset int
	Perm   SecretShuffle
}

// SecretShuffles is an ordered sequence of parallel SecretShuffle
// windows applied to disjoint offsets of the state. BenesPermMI's rows
// tile the whole state left to right; a ForwardDupMI row holds a
// single window and leaves the rest of the state untouched.
type SecretShuffles []OffsetSecretShuffle

// Row is either a PublicShuffle or SecretShuffles: one step of a
// canonical routing program.
type Row interface{ isRow() }

func (PublicShuffle) isRow()  {}
func (SecretShuffles) isRow() {}

// Program is an ordered sequence of routing steps.
type Program []Row

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Log2Exact returns log2(n), panicking if n is not a power of two.
func Log2Exact(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("routing: log2exact of non-positive %d", n))
	}
	m := 0
	for (1 << uint(m)) < n {
		m++
	}
	if 1<<uint(m) != n {
		panic(fmt.Sprintf("routing: %d is not a power of two", n))
	}
	return m
}

func rotR(word, m, i int) int {
	i = ((i % m) + m) % m
	mask := (1 << uint(m)) - 1
	return ((word >> uint(i)) | (word << uint(m-i))) & mask
}

func rotL(word, m, i int) int { return rotR(word, m, m-((i%m+m)%m)) }

// MakeIndexROTR builds the public shuffle rotating m-bit indices by s
// positions to the right.
func MakeIndexROTR(m, s int) PublicShuffle {
	vals := make([]int, 1<<uint(m))
	for i := range vals {
		vals[i] = rotL(i, m, s)
	}
	return PublicShuffle{NewShuffle(vals)}
}

// MakeIndexROTL builds the public shuffle rotating m-bit indices by s
// positions to the left.
func MakeIndexROTL(m, s int) PublicShuffle {
	vals := make([]int, 1<<uint(m))
	for i := range vals {
		vals[i] = rotR(i, m, s)
	}
	return PublicShuffle{NewShuffle(vals)}
}

// ApplyIndices reindexes an arbitrary slice the same way Shuffle.Apply
// reindexes a permutation: out[k] = vals[s.Values[k]]. Used to carry a
// routing program's wiring over data that isn't itself index-typed
// (e.g. memory operands).
func ApplyIndices[T any](s Shuffle, vals []T) []T {
	out := make([]T, len(s.Values))
	for k, idx := range s.Values {
		out[k] = vals[idx]
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
