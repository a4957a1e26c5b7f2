package tally

import (
	"math"
	"strconv"
	"strings"
)

// Sizes bounds the number of siblings retained under one parent, by depth.
// Depths past the end reuse the last limit; no limits means unlimited.
type Sizes struct {
	limits []int
}

var DefaultMaxResults = Sizes{limits: []int{1000000, 100, 10, 1}}

var Unlimited = Sizes{}

func NewSizes(limits ...int) (Sizes, error) {
	for _, l := range limits {
		if l < 0 {
			return Sizes{}, ErrBadSizes
		}
	}
	cp := make([]int, len(limits))
	copy(cp, limits)
	return Sizes{limits: cp}, nil
}

// MustSizes is NewSizes for constant limits.
func MustSizes(limits ...int) Sizes {
	s, err := NewSizes(limits...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Sizes) Size(depth int) int {
	if len(s.limits) == 0 {
		return math.MaxInt
	}
	if depth < 0 {
		depth = 0
	}
	if depth >= len(s.limits) {
		return s.limits[len(s.limits)-1]
	}
	return s.limits[depth]
}

func (s Sizes) Len() int {
	return len(s.limits)
}

func (s Sizes) Limits() []int {
	ret := make([]int, len(s.limits))
	copy(ret, s.limits)
	return ret
}

// MinSizes is the per-depth minimum of two limit lists.
func MinSizes(a, b Sizes) Sizes {
	if len(a.limits) == 0 {
		return b
	}
	if len(b.limits) == 0 {
		return a
	}
	n := max(len(a.limits), len(b.limits))
	limits := make([]int, n)
	for d := range limits {
		limits[d] = min(a.Size(d), b.Size(d))
	}
	return Sizes{limits: limits}
}

func (s Sizes) String() string {
	if len(s.limits) == 0 {
		return "unlimited"
	}
	strs := make([]string, len(s.limits))
	for i, l := range s.limits {
		strs[i] = strconv.Itoa(l)
	}
	return strings.Join(strs, ",")
}
