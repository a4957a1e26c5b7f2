package tally

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/drpcorg/tally/val"
)

// KeyPart is one level of a hierarchical result key: either the values
// of the group fields at that depth or an id that makes a detail row unique.
type KeyPart interface {
	Grouped() bool
	String() string
	appendTo(buf []byte) []byte
}

type GroupKeyPart struct {
	values []val.Val
	raw    string
}

func NewGroupKeyPart(values ...val.Val) GroupKeyPart {
	vals := make([]val.Val, len(values))
	for i, v := range values {
		if v == nil {
			v = val.Null{}
		}
		vals[i] = v
	}
	return GroupKeyPart{values: vals, raw: string(val.AppendVals(nil, vals))}
}

func (p GroupKeyPart) Grouped() bool { return true }

func (p GroupKeyPart) Values() []val.Val {
	ret := make([]val.Val, len(p.values))
	copy(ret, p.values)
	return ret
}

func (p GroupKeyPart) appendTo(buf []byte) []byte {
	buf = append(buf, 1)
	return append(buf, p.raw...)
}

func (p GroupKeyPart) String() string {
	strs := make([]string, len(p.values))
	for i, v := range p.values {
		strs[i] = v.String()
	}
	return strings.Join(strs, "|")
}

type UngroupedKeyPart int64

func (p UngroupedKeyPart) Grouped() bool { return false }

func (p UngroupedKeyPart) appendTo(buf []byte) []byte {
	buf = append(buf, 0)
	return binary.BigEndian.AppendUint64(buf, uint64(p))
}

func (p UngroupedKeyPart) String() string {
	return "#" + strconv.FormatInt(int64(p), 10)
}

// Key is an immutable path of key parts from the root. Keys are compared
// by their encoded form, which is computed once.
type Key struct {
	parts []KeyPart
	raw   string
}

var rootRaw = string([]byte{0, 0, 0, 0})

func RootKey() Key {
	return Key{raw: rootRaw}
}

// KeyFromParts builds a key; only the last part may be ungrouped.
func KeyFromParts(parts ...KeyPart) Key {
	for i, p := range parts[:max(len(parts)-1, 0)] {
		if !p.Grouped() {
			panic("ungrouped key part at depth " + strconv.Itoa(i) + " has children")
		}
	}
	cp := make([]KeyPart, len(parts))
	copy(cp, parts)
	return Key{parts: cp, raw: string(appendKey(nil, cp))}
}

func appendKey(buf []byte, parts []KeyPart) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(parts)))
	for _, p := range parts {
		buf = p.appendTo(buf)
	}
	return buf
}

// Resolve returns the child key. Ungrouped keys are leaves.
func (k Key) Resolve(part KeyPart) Key {
	if !k.Grouped() {
		panic("can not resolve a child of an ungrouped key " + k.String())
	}
	parts := make([]KeyPart, len(k.parts)+1)
	copy(parts, k.parts)
	parts[len(k.parts)] = part
	raw := make([]byte, 0, len(k.raw)+16)
	raw = binary.BigEndian.AppendUint32(raw, uint32(len(parts)))
	raw = append(raw, k.raw[4:]...)
	raw = part.appendTo(raw)
	return Key{parts: parts, raw: string(raw)}
}

// Parent of the root is the root.
func (k Key) Parent() Key {
	if len(k.parts) <= 1 {
		return RootKey()
	}
	return KeyFromParts(k.parts[:len(k.parts)-1]...)
}

// Depth is -1 for the root, 0 for top level items.
func (k Key) Depth() int {
	return len(k.parts) - 1
}

func (k Key) IsRoot() bool {
	return len(k.parts) == 0
}

func (k Key) Last() KeyPart {
	if len(k.parts) == 0 {
		return nil
	}
	return k.parts[len(k.parts)-1]
}

func (k Key) Grouped() bool {
	return len(k.parts) == 0 || k.parts[len(k.parts)-1].Grouped()
}

func (k Key) Equal(other Key) bool {
	return k.raw == other.raw
}

func (k Key) Parts() []KeyPart {
	ret := make([]KeyPart, len(k.parts))
	copy(ret, k.parts)
	return ret
}

func (k Key) Bytes() RawKey {
	return RawKey(k.raw)
}

func (k Key) String() string {
	if len(k.parts) == 0 {
		return "/"
	}
	sb := strings.Builder{}
	for _, p := range k.parts {
		sb.WriteByte('/')
		sb.WriteString(p.String())
	}
	return sb.String()
}
