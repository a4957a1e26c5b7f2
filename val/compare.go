package val

import (
	"strings"

	"golang.org/x/exp/constraints"
)

func compareNumbers[T constraints.Integer | constraints.Float](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare orders nulls first, then numbers numerically, then everything
// else by its text.
func Compare(a, b Val) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	if al, ok := a.(Long); ok {
		if bl, ok := b.(Long); ok {
			return compareNumbers(al, bl)
		}
	}
	if a.Type() != TypeString && b.Type() != TypeString {
		ad, aok := ToDouble(a)
		bd, bok := ToDouble(b)
		if aok && bok {
			return compareNumbers(ad, bd)
		}
	}
	return strings.Compare(a.String(), b.String())
}
