package tally

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/val"
)

const MaxFields = 255

// ItemSerialiser encodes keys and generator arrays for one set of fields.
// It holds no buffers and is safe for concurrent use.
type ItemSerialiser struct {
	exprs []expr.Expression
}

func NewItemSerialiser(exprs []expr.Expression) (*ItemSerialiser, error) {
	if len(exprs) > MaxFields {
		return nil, errors.Join(ErrTooManyFields, fmt.Errorf("%d fields requested", len(exprs)))
	}
	cp := make([]expr.Expression, len(exprs))
	copy(cp, exprs)
	return &ItemSerialiser{exprs: cp}, nil
}

func (s *ItemSerialiser) FieldCount() int {
	return len(s.exprs)
}

// NewGenerators creates a generator per field and feeds it the row.
func (s *ItemSerialiser) NewGenerators(row []val.Val) []expr.Generator {
	gens := make([]expr.Generator, len(s.exprs))
	for i, e := range s.exprs {
		gens[i] = e.NewGenerator()
		gens[i].Set(row)
	}
	return gens
}

func (s *ItemSerialiser) ToRawKey(key Key) RawKey {
	return key.Bytes()
}

func (s *ItemSerialiser) ToKey(raw RawKey) (Key, error) {
	return DecodeKey(raw)
}

// AppendGenerators writes a presence flag per field and the state of the
// present ones. Missing trailing entries are absent.
func (s *ItemSerialiser) AppendGenerators(buf []byte, gens []expr.Generator) []byte {
	for i := range s.exprs {
		if i < len(gens) && gens[i] != nil {
			buf = append(buf, 1)
			buf = gens[i].Append(buf)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

func (s *ItemSerialiser) GeneratorBytes(gens []expr.Generator) []byte {
	return s.AppendGenerators(nil, gens)
}

func (s *ItemSerialiser) ReadGenerators(data []byte) (gens []expr.Generator, rest []byte, err error) {
	gens = make([]expr.Generator, len(s.exprs))
	rest = data
	for i, e := range s.exprs {
		if len(rest) == 0 {
			return nil, nil, ErrBadItem
		}
		present := rest[0]
		rest = rest[1:]
		switch present {
		case 0:
		case 1:
			gens[i] = e.NewGenerator()
			if rest, err = gens[i].Read(rest); err != nil {
				return nil, nil, errors.Join(ErrBadItem, err)
			}
		default:
			return nil, nil, ErrBadItem
		}
	}
	return gens, rest, nil
}

func (s *ItemSerialiser) ToRawItem(key Key, gens []expr.Generator) RawItem {
	return s.appendRawItem(nil, key.Bytes(), gens)
}

func (s *ItemSerialiser) appendRawItem(buf []byte, raw RawKey, gens []expr.Generator) RawItem {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(raw)))
	buf = append(buf, raw...)
	return s.AppendGenerators(buf, gens)
}

func (s *ItemSerialiser) ReadRawItem(raw RawItem) (key Key, gens []expr.Generator, err error) {
	rawKey, genBytes, err := SplitRawItem(raw)
	if err != nil {
		return
	}
	if key, err = DecodeKey(rawKey); err != nil {
		return
	}
	var rest []byte
	gens, rest, err = s.ReadGenerators(genBytes)
	if err == nil && len(rest) != 0 {
		err = ErrBadItem
	}
	return
}

// SplitRawItem cuts a raw item without decoding the key.
func SplitRawItem(raw RawItem) (key RawKey, gens []byte, err error) {
	if len(raw) < 4 {
		return nil, nil, ErrBadItem
	}
	n := int(binary.BigEndian.Uint32(raw))
	if n > len(raw)-4 {
		return nil, nil, ErrBadItem
	}
	return RawKey(raw[4 : 4+n]), raw[4+n:], nil
}

// MergeGenerators folds from into into; absent entries are taken over.
func (s *ItemSerialiser) MergeGenerators(into, from []expr.Generator) []expr.Generator {
	if len(into) < len(s.exprs) {
		grown := make([]expr.Generator, len(s.exprs))
		copy(grown, into)
		into = grown
	}
	for i := range s.exprs {
		if i >= len(from) || from[i] == nil {
			continue
		}
		if into[i] == nil {
			into[i] = from[i]
		} else {
			into[i].Merge(from[i])
		}
	}
	return into
}

// MergeGeneratorBytes merges encoded generator arrays, old to new.
func (s *ItemSerialiser) MergeGeneratorBytes(inputs ...[]byte) ([]byte, error) {
	var merged []expr.Generator
	for _, in := range inputs {
		gens, _, err := s.ReadGenerators(in)
		if err != nil {
			return nil, err
		}
		merged = s.MergeGenerators(merged, gens)
	}
	return s.GeneratorBytes(merged), nil
}

// CloneGenerators makes an independent copy through the codec.
func (s *ItemSerialiser) CloneGenerators(gens []expr.Generator) []expr.Generator {
	clone, _, err := s.ReadGenerators(s.GeneratorBytes(gens))
	if err != nil {
		panic(err)
	}
	return clone
}

func DecodeKey(raw []byte) (Key, error) {
	if len(raw) < 4 {
		return Key{}, ErrBadKey
	}
	n := int(binary.BigEndian.Uint32(raw))
	rest := raw[4:]
	if n > len(rest) {
		return Key{}, ErrBadKey
	}
	parts := make([]KeyPart, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) == 0 {
			return Key{}, ErrBadKey
		}
		if i > 0 && !parts[i-1].Grouped() {
			return Key{}, ErrBadKey
		}
		switch rest[0] {
		case 1:
			vals, tail, err := val.ReadVals(rest[1:])
			if err != nil {
				return Key{}, errors.Join(ErrBadKey, err)
			}
			consumed := rest[1 : len(rest)-len(tail)]
			parts = append(parts, GroupKeyPart{values: vals, raw: string(consumed)})
			rest = tail
		case 0:
			if len(rest) < 9 {
				return Key{}, ErrBadKey
			}
			parts = append(parts, UngroupedKeyPart(binary.BigEndian.Uint64(rest[1:9])))
			rest = rest[9:]
		default:
			return Key{}, ErrBadKey
		}
	}
	if len(rest) != 0 {
		return Key{}, ErrBadKey
	}
	if n == 0 {
		return RootKey(), nil
	}
	return Key{parts: parts, raw: string(raw)}, nil
}
