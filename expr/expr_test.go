package expr

import (
	"fmt"
	"sync"
	"testing"

	"github.com/drpcorg/tally/val"
	"github.com/stretchr/testify/assert"
)

func TestFieldIndex_GetOrCreate(t *testing.T) {
	fi := NewFieldIndex("Host")
	assert.Equal(t, 0, fi.GetOrCreate("Host"))
	assert.Equal(t, 1, fi.GetOrCreate("Bytes"))
	assert.Equal(t, 0, fi.GetOrCreate("Host"))
	assert.Equal(t, 2, fi.Size())
	pos, ok := fi.Pos("Bytes")
	assert.True(t, ok)
	assert.Equal(t, 1, pos)
	_, ok = fi.Pos("Nope")
	assert.False(t, ok)
	assert.Equal(t, "Bytes", fi.Name(1))
	assert.Equal(t, "", fi.Name(7))

	seen := map[string]int{}
	for name, pos := range fi.All() {
		seen[name] = pos
	}
	assert.Equal(t, map[string]int{"Host": 0, "Bytes": 1}, seen)
}

func TestFieldIndex_Concurrent(t *testing.T) {
	const N = 64
	const K = 8
	fi := NewFieldIndex()
	got := make([][]int, K)
	wg := sync.WaitGroup{}
	for k := 0; k < K; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for n := 0; n < N; n++ {
				got[k] = append(got[k], fi.GetOrCreate(fmt.Sprintf("f%d", n)))
			}
		}(k)
	}
	wg.Wait()
	assert.Equal(t, N, fi.Size())
	for k := 1; k < K; k++ {
		assert.Equal(t, got[0], got[k])
	}
	names := fi.Names()
	for pos, name := range names {
		p, ok := fi.Pos(name)
		assert.True(t, ok)
		assert.Equal(t, pos, p)
	}
}

func TestFieldIndex_WellKnown(t *testing.T) {
	fi := NewFieldIndex("StreamId", "__stream_id__")
	assert.Equal(t, 1, fi.StreamIDPos())
	assert.Equal(t, 2, fi.EventIDPos())
	assert.Equal(t, "EventId", fi.Name(2))
}

func TestCompile(t *testing.T) {
	fi := NewFieldIndex()
	cases := [][2]string{
		{"${Host}", "${Host}"},
		{" count( ) ", "count()"},
		{"SUM(${Bytes})", "sum(${Bytes})"},
		{"min(${Bytes})", "min(${Bytes})"},
		{"max( ${Latency})", "max(${Latency})"},
		{"'text'", "'text'"},
		{"42", "42"},
	}
	for _, c := range cases {
		e, err := Compile(c[0], fi)
		assert.Nil(t, err, c[0])
		assert.Equal(t, c[1], e.String())
	}
	assert.Equal(t, []string{"Host", "Bytes", "Latency"}, fi.Names())

	for _, bad := range []string{"", "avg(${x})", "count(${x})", "sum(x)", "${}", "${a}${b}"} {
		_, err := Compile(bad, fi)
		assert.ErrorIs(t, err, ErrBadExpression, bad)
	}
}

func rows(vals ...any) [][]val.Val {
	ret := make([][]val.Val, 0, len(vals))
	for _, v := range vals {
		ret = append(ret, []val.Val{val.String("h"), val.Of(v)})
	}
	return ret
}

func TestGenerators(t *testing.T) {
	fi := NewFieldIndex("Host", "Bytes")
	exprs := []string{"${Host}", "count()", "sum(${Bytes})", "min(${Bytes})", "max(${Bytes})"}
	want := []val.Val{val.String("h"), val.Long(4), val.Long(10), val.Long(1), val.Long(4)}
	for i, text := range exprs {
		e, err := Compile(text, fi)
		assert.Nil(t, err)
		a, b := e.NewGenerator(), e.NewGenerator()
		for _, row := range rows(1, 2) {
			a.Set(row)
		}
		for _, row := range rows(3, 4) {
			b.Set(row)
		}
		a.Merge(b)
		assert.Equal(t, want[i], a.Eval(), text)

		c := e.NewGenerator()
		rest, err := c.Read(a.Append(nil))
		assert.Nil(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, want[i], c.Eval(), text)
	}
}

func TestGenerators_Empty(t *testing.T) {
	fi := NewFieldIndex("Bytes")
	for _, text := range []string{"${Bytes}", "sum(${Bytes})", "min(${Bytes})"} {
		e, _ := Compile(text, fi)
		g := e.NewGenerator()
		g.Set([]val.Val{})
		assert.Equal(t, val.Null{}, g.Eval(), text)
	}
	sum, _ := Compile("sum(${Bytes})", fi)
	g := sum.NewGenerator()
	g.Set([]val.Val{val.Long(1)})
	g.Set([]val.Val{val.Double(0.5)})
	assert.Equal(t, val.Double(1.5), g.Eval())
}

func TestCondition(t *testing.T) {
	fi := NewFieldIndex("Level", "Latency")
	cond := And{
		NewTerm(fi, "Level", Equals, val.String("ERROR")),
		Or{
			NewTerm(fi, "Latency", Greater, val.Long(100)),
			Not(NewTerm(fi, "Level", Contains, val.String("ERR"))),
		},
	}
	assert.True(t, cond.Match([]val.Val{val.String("ERROR"), val.Long(250)}))
	assert.False(t, cond.Match([]val.Val{val.String("ERROR"), val.Long(50)}))
	assert.False(t, cond.Match([]val.Val{val.String("INFO"), val.Long(250)}))
	assert.False(t, NewTerm(fi, "Latency", Less, val.Long(5)).Match([]val.Val{val.String("x")}))
}
