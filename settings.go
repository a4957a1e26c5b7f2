package tally

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash"
	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/protocol"
	"github.com/drpcorg/tally/val"
)

const NotGrouped = -1

// Field is one column of a result table.
type Field struct {
	ID         string
	Name       string
	Expression string
	// Group is the depth this field groups at, NotGrouped for values.
	Group int
}

func ValueField(name, expression string) Field {
	return Field{ID: name, Name: name, Expression: expression, Group: NotGrouped}
}

func GroupField(name, expression string, depth int) Field {
	return Field{ID: name, Name: name, Expression: expression, Group: depth}
}

// TableSettings is the grouping configuration requested by a component.
// Components with equal settings share a coprocessor.
type TableSettings struct {
	Fields []Field
	// ShowDetail keeps every row as an ungrouped child of the deepest group.
	ShowDetail bool
	// ExtractValues means the row values come out of an extraction pipeline.
	ExtractValues      bool
	ExtractionPipeline string
	MaxResults         []int
}

func (ts *TableSettings) Equal(other *TableSettings) bool {
	return ts.ShowDetail == other.ShowDetail &&
		ts.ExtractValues == other.ExtractValues &&
		ts.ExtractionPipeline == other.ExtractionPipeline &&
		slices.Equal(ts.Fields, other.Fields) &&
		slices.Equal(ts.MaxResults, other.MaxResults)
}

// Fingerprint hashes the canonical TLV form of the settings.
func (ts *TableSettings) Fingerprint() uint64 {
	var buf []byte
	for _, f := range ts.Fields {
		buf = protocol.Append(buf, 'F',
			protocol.Record('I', []byte(f.ID)),
			protocol.Record('N', []byte(f.Name)),
			protocol.Record('E', []byte(f.Expression)),
			protocol.Record('G', val.ZipInt64(int64(f.Group))),
		)
	}
	flags := []byte{0, 0}
	if ts.ShowDetail {
		flags[0] = 1
	}
	if ts.ExtractValues {
		flags[1] = 1
	}
	buf = protocol.Append(buf, 'S', flags)
	buf = protocol.Append(buf, 'P', []byte(ts.ExtractionPipeline))
	for _, m := range ts.MaxResults {
		buf = protocol.Append(buf, 'M', val.ZipInt64(int64(m)))
	}
	return xxhash.Sum64(buf)
}

// Pipeline is the extraction pipeline the table depends on, "" for none.
func (ts *TableSettings) Pipeline() string {
	if !ts.ExtractValues {
		return ""
	}
	return ts.ExtractionPipeline
}

// MaxGroupDepth is the deepest group level, NotGrouped without grouping.
func (ts *TableSettings) MaxGroupDepth() int {
	depth := NotGrouped
	for _, f := range ts.Fields {
		depth = max(depth, f.Group)
	}
	return depth
}

type CompiledField struct {
	Field
	Expr expr.Expression
}

var ErrBadGrouping = errors.New("group depths must be contiguous from 0")

func CompileFields(fields []Field, fi *expr.FieldIndex) ([]CompiledField, error) {
	if len(fields) > MaxFields {
		return nil, errors.Join(ErrTooManyFields, fmt.Errorf("%d fields requested", len(fields)))
	}
	ret := make([]CompiledField, len(fields))
	maxDepth := NotGrouped
	depths := map[int]bool{}
	for i, f := range fields {
		e, err := expr.Compile(f.Expression, fi)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("field %q", f.Name), err)
		}
		ret[i] = CompiledField{Field: f, Expr: e}
		if f.Group >= 0 {
			depths[f.Group] = true
			maxDepth = max(maxDepth, f.Group)
		} else if f.Group != NotGrouped {
			return nil, ErrBadGrouping
		}
	}
	for d := 0; d <= maxDepth; d++ {
		if !depths[d] {
			return nil, ErrBadGrouping
		}
	}
	return ret, nil
}

func Expressions(fields []CompiledField) []expr.Expression {
	ret := make([]expr.Expression, len(fields))
	for i, f := range fields {
		ret[i] = f.Expr
	}
	return ret
}

// DataStoreSettings are the per-query store options.
type DataStoreSettings struct {
	ProducePayloads           bool
	StoreLatestEventReference bool
	MaxResults                Sizes
}

func BasicSearchSettings() DataStoreSettings {
	return DataStoreSettings{MaxResults: DefaultMaxResults}
}

func PayloadProducerSettings() DataStoreSettings {
	return DataStoreSettings{ProducePayloads: true, MaxResults: DefaultMaxResults}
}

func AnalyticSettings() DataStoreSettings {
	return DataStoreSettings{StoreLatestEventReference: true, MaxResults: Unlimited}
}
