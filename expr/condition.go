package expr

import (
	"strings"

	"github.com/drpcorg/tally/val"
)

type Op byte

const (
	Equals    Op = '='
	NotEquals Op = '!'
	Contains  Op = '~'
	Greater   Op = '>'
	Less      Op = '<'
)

// Condition decides whether a row is of interest to an alert.
type Condition interface {
	Match(row []val.Val) bool
}

type Term struct {
	Pos   int
	Op    Op
	Value val.Val
}

func NewTerm(fi *FieldIndex, field string, op Op, value val.Val) Term {
	return Term{Pos: fi.GetOrCreate(field), Op: op, Value: value}
}

func (t Term) Match(row []val.Val) bool {
	v := at(row, t.Pos)
	switch t.Op {
	case Equals:
		return val.Compare(v, t.Value) == 0
	case NotEquals:
		return val.Compare(v, t.Value) != 0
	case Contains:
		return strings.Contains(v.String(), t.Value.String())
	case Greater:
		return !val.IsNull(v) && val.Compare(v, t.Value) > 0
	case Less:
		return !val.IsNull(v) && val.Compare(v, t.Value) < 0
	default:
		return false
	}
}

type And []Condition

func (a And) Match(row []val.Val) bool {
	for _, c := range a {
		if !c.Match(row) {
			return false
		}
	}
	return true
}

type Or []Condition

func (o Or) Match(row []val.Val) bool {
	for _, c := range o {
		if c.Match(row) {
			return true
		}
	}
	return false
}

type not struct {
	c Condition
}

func Not(c Condition) Condition { return not{c: c} }

func (n not) Match(row []val.Val) bool { return !n.c.Match(row) }
