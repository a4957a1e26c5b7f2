// Package expr compiles field expressions into per-row aggregate
// generators and evaluates row match conditions.
package expr

import (
	"github.com/drpcorg/tally/val"
)

// Generator accumulates the value of one field for one result item.
// Merge must be associative and commutative for aggregate expressions;
// field references keep the value seen first.
type Generator interface {
	Set(row []val.Val)
	Eval() val.Val
	Merge(other Generator)
	Append(buf []byte) []byte
	Read(data []byte) (rest []byte, err error)
}

// Expression is a compiled field expression, a generator factory.
type Expression interface {
	NewGenerator() Generator
	String() string
}

func at(row []val.Val, pos int) val.Val {
	if pos < 0 || pos >= len(row) || row[pos] == nil {
		return val.Null{}
	}
	return row[pos]
}

// ref keeps the first non-null value of a field.

type refExpr struct {
	pos  int
	name string
}

type refGenerator struct {
	pos   int
	value val.Val
}

func Ref(pos int, name string) Expression {
	return refExpr{pos: pos, name: name}
}

func (e refExpr) NewGenerator() Generator { return &refGenerator{pos: e.pos} }
func (e refExpr) String() string          { return "${" + e.name + "}" }

func (g *refGenerator) Set(row []val.Val) {
	if val.IsNull(g.value) {
		g.value = at(row, g.pos)
	}
}

func (g *refGenerator) Eval() val.Val {
	if g.value == nil {
		return val.Null{}
	}
	return g.value
}

func (g *refGenerator) Merge(other Generator) {
	if val.IsNull(g.value) {
		g.value = other.Eval()
	}
}

func (g *refGenerator) Append(buf []byte) []byte {
	return val.AppendVal(buf, g.Eval())
}

func (g *refGenerator) Read(data []byte) (rest []byte, err error) {
	g.value, rest, err = val.ReadVal(data)
	return
}

type countExpr struct{}

type countGenerator struct {
	count int64
}

func Count() Expression { return countExpr{} }

func (countExpr) NewGenerator() Generator { return &countGenerator{} }
func (countExpr) String() string          { return "count()" }

func (g *countGenerator) Set([]val.Val) { g.count++ }

func (g *countGenerator) Eval() val.Val { return val.Long(g.count) }

func (g *countGenerator) Merge(other Generator) {
	if o, ok := other.(*countGenerator); ok {
		g.count += o.count
	}
}

func (g *countGenerator) Append(buf []byte) []byte {
	return val.AppendVal(buf, val.Long(g.count))
}

func (g *countGenerator) Read(data []byte) (rest []byte, err error) {
	var v val.Val
	v, rest, err = val.ReadVal(data)
	if err == nil {
		g.count, _ = val.ToLong(v)
	}
	return
}

// sum stays integral until a non-integral addend shows up.

type sumExpr struct {
	pos  int
	name string
}

type sumGenerator struct {
	pos      int
	seen     bool
	floating bool
	long     int64
	double   float64
}

func Sum(pos int, name string) Expression { return sumExpr{pos: pos, name: name} }

func (e sumExpr) NewGenerator() Generator { return &sumGenerator{pos: e.pos} }
func (e sumExpr) String() string          { return "sum(${" + e.name + "})" }

func (g *sumGenerator) add(v val.Val) {
	switch x := v.(type) {
	case val.Long:
		g.long += int64(x)
		g.seen = true
	case val.Null, nil:
	default:
		if d, ok := val.ToDouble(v); ok {
			g.double += d
			g.floating = true
			g.seen = true
		}
	}
}

func (g *sumGenerator) Set(row []val.Val) { g.add(at(row, g.pos)) }

func (g *sumGenerator) Eval() val.Val {
	switch {
	case !g.seen:
		return val.Null{}
	case g.floating:
		return val.Double(g.double + float64(g.long))
	default:
		return val.Long(g.long)
	}
}

func (g *sumGenerator) Merge(other Generator) {
	o, ok := other.(*sumGenerator)
	if !ok || !o.seen {
		return
	}
	g.seen = true
	g.long += o.long
	g.double += o.double
	g.floating = g.floating || o.floating
}

func (g *sumGenerator) Append(buf []byte) []byte {
	return val.AppendVal(buf, g.Eval())
}

func (g *sumGenerator) Read(data []byte) (rest []byte, err error) {
	var v val.Val
	v, rest, err = val.ReadVal(data)
	if err != nil {
		return
	}
	g.seen, g.floating, g.long, g.double = false, false, 0, 0
	g.add(v)
	return
}

// min and max

type extremeExpr struct {
	pos  int
	name string
	max  bool
}

type extremeGenerator struct {
	pos   int
	max   bool
	value val.Val
}

func Min(pos int, name string) Expression { return extremeExpr{pos: pos, name: name} }
func Max(pos int, name string) Expression { return extremeExpr{pos: pos, name: name, max: true} }

func (e extremeExpr) NewGenerator() Generator {
	return &extremeGenerator{pos: e.pos, max: e.max}
}

func (e extremeExpr) String() string {
	if e.max {
		return "max(${" + e.name + "})"
	}
	return "min(${" + e.name + "})"
}

func (g *extremeGenerator) offer(v val.Val) {
	if val.IsNull(v) {
		return
	}
	if val.IsNull(g.value) {
		g.value = v
		return
	}
	c := val.Compare(v, g.value)
	if (g.max && c > 0) || (!g.max && c < 0) {
		g.value = v
	}
}

func (g *extremeGenerator) Set(row []val.Val) { g.offer(at(row, g.pos)) }

func (g *extremeGenerator) Eval() val.Val {
	if g.value == nil {
		return val.Null{}
	}
	return g.value
}

func (g *extremeGenerator) Merge(other Generator) { g.offer(other.Eval()) }

func (g *extremeGenerator) Append(buf []byte) []byte {
	return val.AppendVal(buf, g.Eval())
}

func (g *extremeGenerator) Read(data []byte) (rest []byte, err error) {
	g.value, rest, err = val.ReadVal(data)
	return
}

type literalExpr struct {
	value val.Val
}

type literalGenerator struct {
	value val.Val
}

func Literal(v val.Val) Expression { return literalExpr{value: v} }

func (e literalExpr) NewGenerator() Generator { return literalGenerator{value: e.value} }

func (e literalExpr) String() string {
	if s, ok := e.value.(val.String); ok {
		return "'" + string(s) + "'"
	}
	return e.value.String()
}

func (g literalGenerator) Set([]val.Val)                   {}
func (g literalGenerator) Eval() val.Val                   { return g.value }
func (g literalGenerator) Merge(Generator)                 {}
func (g literalGenerator) Append(buf []byte) []byte        { return buf }
func (g literalGenerator) Read(data []byte) ([]byte, error) { return data, nil }
