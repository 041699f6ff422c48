package bitmapset

import "testing"

func mustSingleton(t *testing.T, x int) *Set {
	t.Helper()
	s, err := MakeSingleton(x)
	if err != nil {
		t.Fatalf("MakeSingleton(%d): %v", x, err)
	}
	return s
}

func TestNilEqualsEmpty(t *testing.T) {
	if !Equal(nil, New()) {
		t.Fatal("nil set should equal a freshly allocated empty set")
	}
	if Hash(nil) != 0 || Hash(New()) != 0 {
		t.Fatal("empty representations must hash to 0")
	}
}

func TestCopyEqual(t *testing.T) {
	a, _ := AddRange(nil, 3, 70)
	b := Copy(a)
	if !Equal(a, b) {
		t.Fatal("copy(a) must equal a")
	}
	if Hash(a) != Hash(b) {
		t.Fatal("equal sets must hash equally")
	}
}

func TestUnionIntersectDifference(t *testing.T) {
	a := mustSingleton(t, 1)
	a, _ = AddMember(a, 2)
	b := mustSingleton(t, 2)
	b, _ = AddMember(b, 3)

	u := Union(a, b)
	if !u.IsMember(1) || !u.IsMember(2) || !u.IsMember(3) {
		t.Fatal("union must contain every member of both operands")
	}

	inter := Intersect(a, a)
	if !Equal(inter, a) {
		t.Fatal("intersect(a,a) must equal a")
	}

	diff := Difference(a, a)
	if !diff.IsEmpty() {
		t.Fatal("difference(a,a) must be empty")
	}

	if !Equal(a, Union(a, nil)) {
		t.Fatal("equal(a, union(a, empty)) must be true")
	}
}

func TestAddRangeBoundary(t *testing.T) {
	s, err := AddRange(nil, 3, 70)
	if err != nil {
		t.Fatal(err)
	}
	if s.NumMembers() != 68 {
		t.Fatalf("want 68 members, got %d", s.NumMembers())
	}
	if !s.IsMember(3) || !s.IsMember(70) || s.IsMember(2) || s.IsMember(71) {
		t.Fatal("range boundaries wrong")
	}
	if Hash(s) != Hash(Copy(s)) {
		t.Fatal("hash must match on copy")
	}

	noop, err := AddRange(nil, 70, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !noop.IsEmpty() {
		t.Fatal("add_range with hi < lo must be a no-op")
	}
}

func TestNegativeMemberRejected(t *testing.T) {
	if _, err := MakeSingleton(-1); err == nil {
		t.Fatal("expected error for negative member")
	}
	if _, err := AddMember(nil, -5); err == nil {
		t.Fatal("expected error for negative member in AddMember")
	}
}

func TestDestructiveIterationAscending(t *testing.T) {
	s, _ := AddRange(nil, 1, 10)
	first, cur, ok := FirstMember(s)
	if !ok {
		t.Fatal("expected a first member")
	}
	prev := first
	for {
		next, ok := cur.NextMember()
		if !ok {
			break
		}
		if next <= prev {
			t.Fatalf("expected ascending order, got %d after %d", next, prev)
		}
		prev = next
	}
}

func TestSubsetCompare(t *testing.T) {
	a := mustSingleton(t, 5)
	b, _ := AddMember(Copy(a), 6)

	if SubsetCompare(a, b) != ComparisonSubset1 {
		t.Fatal("a should be a strict subset of b")
	}
	if SubsetCompare(b, a) != ComparisonSubset2 {
		t.Fatal("b should be a strict superset of a")
	}
	if SubsetCompare(a, Copy(a)) != ComparisonEqual {
		t.Fatal("a should equal its own copy")
	}
}

func TestAnyMemberUniform(t *testing.T) {
	s, _ := AddRange(nil, 0, 3)
	counts := make(map[int]int)
	const trials = 4000
	rnd := pseudoRand(12345)
	for i := 0; i < trials; i++ {
		v, ok := AnyMember(s, func(n int) int { return int(rnd() % uint64(n)) })
		if !ok {
			t.Fatal("expected a member")
		}
		counts[v]++
	}
	for v := 0; v <= 3; v++ {
		if counts[v] == 0 {
			t.Fatalf("member %d never sampled across %d trials", v, trials)
		}
	}
}

// pseudoRand is a tiny deterministic PRNG (xorshift64) so the test doesn't
// depend on math/rand's global seed ordering.
func pseudoRand(seed uint64) func() uint64 {
	state := seed
	return func() uint64 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		return state
	}
}
