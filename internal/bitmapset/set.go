// Package bitmapset implements the BitmapSet primitive (spec.md §4.1, C1):
// a compact set of nonnegative integers, used by SnapshotBuilder to carry
// a data node's shard-ownership filter alongside a snapshot.
//
// The original is a bespoke fixed-word bitmap (bms_* family); here the
// backing store is github.com/RoaringBitmap/roaring/v2 — a compressed
// bitmap already depended on elsewhere in the retrieval pack (erigon-lib's
// go.mod) for exactly this "set of ints, fast union/intersect/iterate"
// shape. A nil *Set is the canonical empty set, matching the original's
// "null pointer is ∅" convention; every constructor that would otherwise
// return an empty set returns nil instead so equality/hash collapse the
// same way the spec requires.
package bitmapset

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kartikbazzad/txcoord/internal/errs"
)

// Set is a set of nonnegative integers. The zero value is not meaningful;
// use New() or one of the constructors. A nil *Set denotes ∅ and is safe
// to pass to every read-only method.
type Set struct {
	bm *roaring.Bitmap
}

// New returns a freshly allocated empty set (non-nil, but Empty() is true).
// Most callers should just use a nil *Set for ∅; New is for callers that
// intend to mutate immediately via AddMember.
func New() *Set {
	return &Set{bm: roaring.New()}
}

func emptyIfBlank(s *Set) *Set {
	if s == nil || s.bm == nil || s.bm.IsEmpty() {
		return nil
	}
	return s
}

func (s *Set) bitmap() *roaring.Bitmap {
	if s == nil || s.bm == nil {
		return roaring.New()
	}
	return s.bm
}

func checkMember(x int) (uint32, error) {
	if x < 0 {
		return 0, errs.ErrNegativeBitmapMember
	}
	return uint32(x), nil
}

// MakeSingleton returns a fresh set containing only x.
func MakeSingleton(x int) (*Set, error) {
	v, err := checkMember(x)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	bm.Add(v)
	return &Set{bm: bm}, nil
}

// Copy returns a deep, independently-owned copy of s (nil copies to nil).
func Copy(s *Set) *Set {
	if s == nil || s.bm == nil {
		return nil
	}
	return &Set{bm: s.bm.Clone()}
}

// Free releases s's resources. Go's GC reclaims the backing Roaring bitmap
// on its own; Free exists only so call sites that mirror the original's
// bms_free(set) read the same way. It is a deliberate no-op.
func Free(s *Set) { _ = s }

// Equal reports whether a and b represent the same set. Two sets with
// different internal representations (e.g. one nil, one allocated-but-empty)
// are equal iff they have the same members.
func Equal(a, b *Set) bool {
	if a == nil || a.bm == nil || a.bm.IsEmpty() {
		return b == nil || b.bm == nil || b.bm.IsEmpty()
	}
	if b == nil || b.bm == nil {
		return false
	}
	return a.bm.Equals(b.bm)
}

// IsMember reports whether x is in s. Negative x is always not-a-member
// (it cannot have been added).
func (s *Set) IsMember(x int) bool {
	if x < 0 {
		return false
	}
	return s.bitmap().Contains(uint32(x))
}

// IsEmpty reports whether s is ∅.
func (s *Set) IsEmpty() bool {
	return s == nil || s.bm == nil || s.bm.IsEmpty()
}

// NumMembers returns the cardinality of s.
func (s *Set) NumMembers() int {
	return int(s.bitmap().GetCardinality())
}

// Singleton reports whether s has exactly one member.
func (s *Set) Singleton() bool {
	return s.NumMembers() == 1
}

// GetSingleton returns s's single member and true, or (0, false) if s does
// not have exactly one member.
func (s *Set) GetSingleton() (int, bool) {
	if !s.Singleton() {
		return 0, false
	}
	return int(s.bitmap().Minimum()), true
}

// Union returns a ∪ b as a freshly owned set.
func Union(a, b *Set) *Set {
	out := roaring.Or(a.bitmap(), b.bitmap())
	return emptyIfBlank(&Set{bm: out})
}

// Intersect returns a ∩ b as a freshly owned set.
func Intersect(a, b *Set) *Set {
	out := roaring.And(a.bitmap(), b.bitmap())
	return emptyIfBlank(&Set{bm: out})
}

// Difference returns a \ b as a freshly owned set.
func Difference(a, b *Set) *Set {
	out := roaring.AndNot(a.bitmap(), b.bitmap())
	return emptyIfBlank(&Set{bm: out})
}

// IsSubset reports whether a ⊆ b.
func IsSubset(a, b *Set) bool {
	if a.IsEmpty() {
		return true
	}
	if b.IsEmpty() {
		return false
	}
	return a.bitmap().AndCardinality(b.bitmap()) == a.bitmap().GetCardinality()
}

// SubsetCompare classifies the relationship between a and b.
type Comparison int

const (
	ComparisonDifferent Comparison = iota
	ComparisonEqual
	ComparisonSubset1 // a ⊂ b
	ComparisonSubset2 // b ⊂ a
)

// SubsetCompare reports how a and b relate to each other as sets.
func SubsetCompare(a, b *Set) Comparison {
	switch {
	case Equal(a, b):
		return ComparisonEqual
	case IsSubset(a, b):
		return ComparisonSubset1
	case IsSubset(b, a):
		return ComparisonSubset2
	default:
		return ComparisonDifferent
	}
}

// Overlap reports whether a ∩ b ≠ ∅.
func Overlap(a, b *Set) bool {
	return a.bitmap().Intersects(b.bitmap())
}

// AddMember adds x to s in place (recycling s) and returns s, allocating a
// backing bitmap first if s was nil.
func AddMember(s *Set, x int) (*Set, error) {
	v, err := checkMember(x)
	if err != nil {
		return s, err
	}
	if s == nil || s.bm == nil {
		s = New()
	}
	s.bm.Add(v)
	return s, nil
}

// DelMember removes x from s in place (recycling s) and returns s.
func DelMember(s *Set, x int) *Set {
	if s == nil || s.bm == nil || x < 0 {
		return s
	}
	s.bm.Remove(uint32(x))
	return emptyIfBlank(s)
}

// AddMembers unions b's members into a in place (recycling a) and returns a.
func AddMembers(a, b *Set) *Set {
	if a == nil || a.bm == nil {
		a = New()
	}
	a.bm.Or(b.bitmap())
	return a
}

// IntMembers intersects a with b in place (recycling a) and returns a.
func IntMembers(a, b *Set) *Set {
	if a == nil || a.bm == nil {
		return nil
	}
	a.bm.And(b.bitmap())
	return emptyIfBlank(a)
}

// DelMembers removes b's members from a in place (recycling a) and returns a.
func DelMembers(a, b *Set) *Set {
	if a == nil || a.bm == nil {
		return nil
	}
	a.bm.AndNot(b.bitmap())
	return emptyIfBlank(a)
}

// Join unions a and b, recycling both, and returns the result. Callers
// must not use a or b again after Join.
func Join(a, b *Set) *Set {
	if a == nil || a.bm == nil {
		return emptyIfBlank(b)
	}
	a.bm.Or(b.bitmap())
	return emptyIfBlank(a)
}

// AddRange adds every integer in [lo, hi] (inclusive) to s in place,
// recycling s. hi < lo is a no-op (spec.md §8 boundary behavior).
func AddRange(s *Set, lo, hi int) (*Set, error) {
	if hi < lo {
		return s, nil
	}
	if lo < 0 {
		return s, errs.ErrNegativeBitmapMember
	}
	if s == nil || s.bm == nil {
		s = New()
	}
	s.bm.AddRange(uint64(lo), uint64(hi)+1)
	return s, nil
}

// destructiveCursor supports FirstMember/NextMember's consuming iteration.
type destructiveCursor struct {
	s *Set
}

// FirstMember returns s's smallest member and a cursor to continue from,
// consuming s (the spec's bms_first_member is destructive: it is meant to
// be called in a first/next loop that empties the set as it iterates).
// Every member returned is removed from s. Returns (0, nil, false) if s is
// empty.
func FirstMember(s *Set) (int, *destructiveCursor, bool) {
	if s.IsEmpty() {
		return 0, nil, false
	}
	v := s.bm.Minimum()
	s.bm.Remove(v)
	return int(v), &destructiveCursor{s: s}, true
}

// NextMember removes and returns the smallest remaining member, or
// (0, false) when the set has been emptied.
func (c *destructiveCursor) NextMember() (int, bool) {
	if c == nil || c.s.IsEmpty() {
		return 0, false
	}
	v := c.s.bm.Minimum()
	c.s.bm.Remove(v)
	return int(v), true
}

// Cursor is a non-destructive iteration cursor distinguishing "not
// started yet" from "finished" the way the original's -1/-2 sentinels do,
// without consuming the set (spec.md §4.1, §9 design note).
type Cursor struct {
	it      roaring.IntPeekable
	started bool
	done    bool
}

const (
	cursorNotStarted = -1
	cursorFinished   = -2
)

// Iterator returns a fresh non-destructive cursor over s, positioned
// before the first element (state cursorNotStarted).
func (s *Set) Iterator() *Cursor {
	return &Cursor{it: s.bitmap().Iterator()}
}

// Next advances the cursor and returns the next member, or
// (cursorFinished, false) once exhausted.
func (c *Cursor) Next() (int, bool) {
	if c.done {
		return cursorFinished, false
	}
	c.started = true
	if !c.it.HasNext() {
		c.done = true
		return cursorFinished, false
	}
	return int(c.it.Next()), true
}

// Position reports the sentinel for a cursor that hasn't been advanced
// yet (cursorNotStarted) or has run out (cursorFinished), for callers that
// want to distinguish "about to start" from "done" without calling Next.
func (c *Cursor) Position() int {
	if !c.started {
		return cursorNotStarted
	}
	if c.done {
		return cursorFinished
	}
	return cursorNotStarted
}

// AnyMember returns a uniformly random member of s via reservoir sampling
// over a non-destructive iterator.
//
// DESIGN.md Open Question 2: the original bms_any_member drove a
// destructive iterator with a random start skip, which samples uniformly
// over *iteration start positions* rather than over *members* — a bias
// whenever the set's members aren't contiguous from the scan's start.
// This redesigns it as real reservoir sampling (Algorithm R), which is
// uniform over members regardless of layout, at the cost of a full scan.
func AnyMember(s *Set, rnd func(n int) int) (int, bool) {
	if s.IsEmpty() {
		return 0, false
	}
	it := s.bitmap().Iterator()
	chosen := 0
	count := 0
	for it.HasNext() {
		v := it.Next()
		count++
		if count == 1 {
			chosen = int(v)
			continue
		}
		if rnd(count) == 0 {
			chosen = int(v)
		}
	}
	return chosen, true
}

// Hash returns a value such that Equal(a, b) implies Hash(a) == Hash(b).
// The original hashes the raw word array (all empty representations → 0,
// nonempty sets hash over the prefix ending at the last nonzero word).
// Roaring's internal containers don't expose an equivalent fixed-word
// layout, so equality-compatible hashing is done over the sorted member
// list instead — functionally identical guarantee (equal sets hash
// equally), different mechanism; noted here since it's a deliberate
// departure from the original's exact algorithm, not an oversight.
func Hash(s *Set) uint64 {
	if s.IsEmpty() {
		return 0
	}
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	it := s.bitmap().Iterator()
	for it.HasNext() {
		v := uint64(it.Next())
		for i := 0; i < 8; i++ {
			h ^= (v >> (8 * i)) & 0xff
			h *= prime64
		}
	}
	return h
}
