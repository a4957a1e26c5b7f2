// Package val holds the dynamically typed cell values that flow through
// result rows, group keys and aggregate state.
package val

import (
	"strconv"
	"strings"
	"time"
)

type Type byte

const (
	TypeNull   Type = 'N'
	TypeBool   Type = 'B'
	TypeLong   Type = 'L'
	TypeDouble Type = 'D'
	TypeString Type = 'S'
	TypeDate   Type = 'T'
	TypeErr    Type = 'E'
)

// Val is a single typed cell value.
type Val interface {
	Type() Type
	String() string
}

type Null struct{}

type Bool bool

type Long int64

type Double float64

type String string

// Date is milliseconds since the Unix epoch, UTC.
type Date int64

// Err carries an evaluation failure as a value.
type Err string

const DateLayout = "2006-01-02T15:04:05.000Z"

func (Null) Type() Type   { return TypeNull }
func (Bool) Type() Type   { return TypeBool }
func (Long) Type() Type   { return TypeLong }
func (Double) Type() Type { return TypeDouble }
func (String) Type() Type { return TypeString }
func (Date) Type() Type   { return TypeDate }
func (Err) Type() Type    { return TypeErr }

func (Null) String() string { return "" }

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

func (l Long) String() string { return strconv.FormatInt(int64(l), 10) }

func (d Double) String() string { return strconv.FormatFloat(float64(d), 'g', -1, 64) }

func (s String) String() string { return string(s) }

func (d Date) String() string {
	return time.UnixMilli(int64(d)).UTC().Format(DateLayout)
}

func (e Err) String() string { return "Err: " + string(e) }

func IsNull(v Val) bool {
	return v == nil || v.Type() == TypeNull
}

// Of converts a plain Go value.
func Of(x any) Val {
	switch v := x.(type) {
	case nil:
		return Null{}
	case Val:
		return v
	case bool:
		return Bool(v)
	case int:
		return Long(v)
	case int32:
		return Long(v)
	case int64:
		return Long(v)
	case uint32:
		return Long(v)
	case float32:
		return Double(v)
	case float64:
		return Double(v)
	case string:
		return String(v)
	case time.Time:
		return Date(v.UnixMilli())
	case error:
		return Err(v.Error())
	default:
		return Err("unsupported value type")
	}
}

// Parse guesses the type of a textual cell: integers, floats, booleans,
// RFC3339 timestamps, otherwise strings. Empty text is null.
func Parse(s string) Val {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null{}
	}
	if l, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Long(l)
	}
	if d, err := strconv.ParseFloat(s, 64); err == nil {
		return Double(d)
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return Bool(b)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Date(t.UnixMilli())
	}
	return String(s)
}

// ToDouble returns the numeric reading of a value.
func ToDouble(v Val) (float64, bool) {
	switch x := v.(type) {
	case Long:
		return float64(x), true
	case Double:
		return float64(x), true
	case Date:
		return float64(x), true
	case Bool:
		if x {
			return 1, true
		}
		return 0, true
	case String:
		d, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		return d, err == nil
	default:
		return 0, false
	}
}

// ToLong returns the integer reading of a value.
func ToLong(v Val) (int64, bool) {
	switch x := v.(type) {
	case Long:
		return int64(x), true
	case Date:
		return int64(x), true
	case Double:
		return int64(x), true
	case String:
		l, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
		return l, err == nil
	default:
		return 0, false
	}
}
