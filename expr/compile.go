package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/drpcorg/tally/val"
)

var ErrBadExpression = errors.New("bad expression")

// Compile parses one field expression. Supported forms:
//
//	${Field}  count()  sum(${Field})  min(${Field})  max(${Field})
//	'text'  42  1.5
//
// Every referenced field gets a position in the index.
func Compile(text string, fi *FieldIndex) (Expression, error) {
	text = strings.TrimSpace(text)
	if name, ok := fieldName(text); ok {
		return Ref(fi.GetOrCreate(name), name), nil
	}
	if open := strings.IndexByte(text, '('); open > 0 && strings.HasSuffix(text, ")") {
		fn := strings.ToLower(strings.TrimSpace(text[:open]))
		arg := strings.TrimSpace(text[open+1 : len(text)-1])
		if fn == "count" {
			if arg != "" {
				return nil, badExpression(text)
			}
			return Count(), nil
		}
		name, ok := fieldName(arg)
		if !ok {
			return nil, badExpression(text)
		}
		pos := fi.GetOrCreate(name)
		switch fn {
		case "sum":
			return Sum(pos, name), nil
		case "min":
			return Min(pos, name), nil
		case "max":
			return Max(pos, name), nil
		default:
			return nil, badExpression(text)
		}
	}
	if v, ok := literal(text); ok {
		return Literal(v), nil
	}
	return nil, badExpression(text)
}

func badExpression(text string) error {
	return errors.Join(ErrBadExpression, fmt.Errorf("cannot compile %q", text))
}

func fieldName(text string) (string, bool) {
	if !strings.HasPrefix(text, "${") || !strings.HasSuffix(text, "}") {
		return "", false
	}
	name := strings.TrimSpace(text[2 : len(text)-1])
	if name == "" || strings.ContainsAny(name, "${}") {
		return "", false
	}
	return name, true
}

func literal(text string) (val.Val, bool) {
	if len(text) >= 2 {
		q := text[0]
		if (q == '\'' || q == '"') && text[len(text)-1] == q {
			return val.String(text[1 : len(text)-1]), true
		}
	}
	if l, err := strconv.ParseInt(text, 10, 64); err == nil {
		return val.Long(l), true
	}
	if d, err := strconv.ParseFloat(text, 64); err == nil {
		return val.Double(d), true
	}
	return nil, false
}
