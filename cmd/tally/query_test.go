package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/drpcorg/tally"
	"github.com/drpcorg/tally/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQuery(t *testing.T, ts tableSpec) *query {
	log := utils.NewDefaultLogger(slog.LevelWarn)
	stores, err := tally.NewDataStoreFactory(tally.ResultStoreConfig{}, log)
	require.NoError(t, err)
	q, err := openQuery(stores, ts, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.rs.Destroy() })
	return q
}

func TestTableSpec_Settings(t *testing.T) {
	table, err := tableSpec{
		groups: []string{"Host", "Status"},
		values: []string{"n=count()", "sum(${Bytes})"},
		limits: []int{10, 5},
	}.settings()
	assert.NoError(t, err)
	assert.Equal(t, []tally.Field{
		tally.GroupField("Host", "${Host}", 0),
		tally.GroupField("Status", "${Status}", 1),
		tally.ValueField("n", "count()"),
		tally.ValueField("sum(${Bytes})", "sum(${Bytes})"),
	}, table.Fields)
	assert.Equal(t, []int{10, 5}, table.MaxResults)

	_, err = tableSpec{values: []string{"n="}}.settings()
	assert.ErrorIs(t, err, ErrBadValueFlag)
}

func TestQuery_FeedCSV(t *testing.T) {
	q := testQuery(t, tableSpec{
		groups: []string{"Host"},
		values: []string{"n=count()", "bytes=sum(${Bytes})"},
	})
	rows, err := q.feedCSV(strings.NewReader("Host,Bytes\na,10\nb,5\na,7\n"))
	assert.NoError(t, err)
	assert.Equal(t, 3, rows)
	require.NoError(t, q.rs.SignalComplete())

	data, err := q.data()
	require.NoError(t, err)
	page := data.Page(tally.RootKey(), 0, 10)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, []string{"a", "2", "17"}, page.Rows[0].Values)
	assert.Equal(t, []string{"b", "1", "5"}, page.Rows[1].Values)

	out := bytes.Buffer{}
	printPage(&out, data, page)
	assert.Equal(t, "Host\tn\tbytes\tchildren\na\t2\t17\t0\nb\t1\t5\t0\nrows 0..2 of 2\n", out.String())
}

func TestQuery_NestedPage(t *testing.T) {
	q := testQuery(t, tableSpec{
		groups: []string{"Host", "Status"},
		values: []string{"n=count()"},
	})
	_, err := q.feedCSV(strings.NewReader("Status,Host\n200,a\n404,a\n200,a\n200,b\n"))
	require.NoError(t, err)

	data, err := q.data()
	require.NoError(t, err)
	top := data.Page(tally.RootKey(), 0, 10)
	require.Len(t, top.Rows, 2)
	assert.Equal(t, 2, top.Rows[0].ChildCount)

	page := data.Page(keyOf("a"), 0, 10)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, []string{"a", "200", "2"}, page.Rows[0].Values)
	assert.Equal(t, []string{"a", "404", "1"}, page.Rows[1].Values)

	assert.Equal(t, 1, data.Page(keyOf("/b/"), 0, 10).Total)
	assert.True(t, keyOf("").IsRoot())
	assert.Equal(t, 0, data.Page(keyOf("c"), 0, 10).Total)
}
