package types

import (
	"maps"
	"sort"
)

// OwnerSet is an unordered set of owners, used for blocker and
// notification sets
type OwnerSet map[Owner]struct{}

func NewOwnerSet(owners ...Owner) OwnerSet {
	s := make(OwnerSet, len(owners))
	for _, o := range owners {
		s[o] = struct{}{}
	}
	return s
}

func (s OwnerSet) Add(o Owner) {
	s[o] = struct{}{}
}

func (s OwnerSet) Has(o Owner) bool {
	_, ok := s[o]
	return ok
}

func (s OwnerSet) Len() int {
	return len(s)
}

// merges other into s
func (s OwnerSet) Merge(other OwnerSet) {
	for o := range other {
		s[o] = struct{}{}
	}
}

func (s OwnerSet) Clone() OwnerSet {
	if s == nil {
		return OwnerSet{}
	}
	return maps.Clone(s)
}

// Min returns the smallest owner in string order
// this is the deterministic choice used to pick one blocker out of a
// blocking set
func (s OwnerSet) Min() (Owner, bool) {
	if len(s) == 0 {
		return "", false
	}
	var min Owner
	first := true
	for o := range s {
		if first || o < min {
			min = o
			first = false
		}
	}
	return min, true
}

// Sorted returns the owners in ascending string order
func (s OwnerSet) Sorted() []Owner {
	owners := make([]Owner, 0, len(s))
	for o := range s {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners
}
