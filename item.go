package tally

import (
	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/val"
)

// RawKey is the encoded form of a Key:
// int32 part count, then per part a grouped flag and either the group
// values or a big-endian int64 id.
type RawKey []byte

// RawItem is int32 key length, the raw key, then the generator bytes.
type RawItem []byte

// Item is one result row: its key, one generator per field (nil when the
// field has no state) and the most recent event that contributed to it.
type Item struct {
	Key        Key
	Generators []expr.Generator
	LatestRef  EventRef
}

func (it Item) Value(field int) val.Val {
	if field < 0 || field >= len(it.Generators) || it.Generators[field] == nil {
		return val.Null{}
	}
	return it.Generators[field].Eval()
}

func (it Item) Values() []val.Val {
	ret := make([]val.Val, len(it.Generators))
	for i := range ret {
		ret[i] = it.Value(i)
	}
	return ret
}
