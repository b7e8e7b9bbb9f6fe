package routing

import "testing"

func intsEqual(a, b []int) bool {
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

func TestBenesPermIdentity(t *testing.T) {
	f := []int{0, 1, 2, 3, 4, 5, 6, 7}
	bp := NewBenesPerm(f)
	got := bp.Apply([]int{10, 11, 12, 13, 14, 15, 16, 17})
	if !intsEqual(got, []int{10, 11, 12, 13, 14, 15, 16, 17}) {
		t.Errorf("identity permutation changed the input: %v", got)
	}
}

func TestBenesPermReversal(t *testing.T) {
	f := []int{7, 6, 5, 4, 3, 2, 1, 0}
	bp := NewBenesPerm(f)
	got := bp.Apply([]int{0, 1, 2, 3, 4, 5, 6, 7})
	if !intsEqual(got, f) {
		t.Errorf("reversal permutation: got %v, want %v", got, f)
	}
}

func TestBenesPermSingleSwap(t *testing.T) {
	got := NewBenesPerm([]int{1, 0}).Apply([]int{0, 1})
	if !intsEqual(got, []int{1, 0}) {
		t.Errorf("m=1 swap case failed: %v", got)
	}
}

func TestBenesPermMIMatchesBenesPermForEveryLe(t *testing.T) {
	f := []int{3, 1, 4, 0, 6, 5, 7, 2} // an 8-element permutation, m=3
	want := NewBenesPerm(f).Apply(nil)

	for le := 1; le <= 4; le++ {
		got := NewBenesPermMI(f, le).Apply(identity(8))
		if !intsEqual(got, want) {
			t.Errorf("le=%d: got %v, want %v", le, got, want)
		}
	}
}

func TestE5BDBFuncMINonInjective(t *testing.T) {
	// f = [0,0,1,1]: a non-injective function over a 2-bit domain.
	f := []int{0, 0, 1, 1}
	for le := 1; le <= 3; le++ {
		bdb := NewBDBFuncMI(f, le)
		got := bdb.Apply(identity(4))
		if !intsEqual(got, f) {
			t.Errorf("le=%d: BDBFuncMI(%v).Apply(identity) = %v, want %v", le, f, got, f)
		}
	}
}

func TestBDBFuncMIConstantFunction(t *testing.T) {
	f := []int{2, 2, 2, 2, 2, 2, 2, 2}
	for le := 1; le <= 3; le++ {
		got := NewBDBFuncMI(f, le).Apply(identity(8))
		if !intsEqual(got, f) {
			t.Errorf("le=%d: constant function failed: got %v", le, got)
		}
	}
}

func TestCanonicalProgramMatchesDirectApply(t *testing.T) {
	f := []int{5, 0, 3, 1, 4, 2, 6, 7}
	for le := 1; le <= 4; le++ {
		bdb := NewBDBFuncMI(f, le)
		direct := bdb.Apply(identity(8))

		program := Optimize(bdb.Canonical())
		viaProgram := CanonicalRun(program, 3)

		if !intsEqual(direct, viaProgram) {
			t.Errorf("le=%d: canonical program disagrees with direct apply: %v vs %v", le, viaProgram, direct)
		}
	}
}

func TestOptimizeDropsIdentityRows(t *testing.T) {
	program := Program{
		PublicShuffle{NewShuffle([]int{0, 1, 2, 3})},
		SecretShuffles{{Offset: 0, Perm: SecretShuffle{NewShuffle([]int{1, 0, 2, 3})}}},
		PublicShuffle{NewShuffle([]int{0, 1, 2, 3})},
	}
	optimized := Optimize(program)
	if len(optimized) != 1 {
		t.Fatalf("expected identity rows removed, got %d rows", len(optimized))
	}
}
