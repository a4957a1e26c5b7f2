package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/drpcorg/tally"
	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/utils"
	"github.com/drpcorg/tally/val"
)

var ErrBadValueFlag = errors.New("values look like name=expression")

// tableSpec is the table a command line asks for.
type tableSpec struct {
	groups []string
	values []string
	detail bool
	limits []int
}

func (ts tableSpec) settings() (tally.TableSettings, error) {
	table := tally.TableSettings{ShowDetail: ts.detail, MaxResults: ts.limits}
	for depth, group := range ts.groups {
		table.Fields = append(table.Fields, tally.GroupField(group, "${"+group+"}", depth))
	}
	for _, value := range ts.values {
		name, text, ok := strings.Cut(value, "=")
		if !ok {
			name, text = value, value
		}
		name, text = strings.TrimSpace(name), strings.TrimSpace(text)
		if name == "" || text == "" {
			return table, ErrBadValueFlag
		}
		table.Fields = append(table.Fields, tally.ValueField(name, text))
	}
	return table, nil
}

type query struct {
	fi *expr.FieldIndex
	rs *tally.ResultStore
}

const component = "cli"

func openQuery(stores *tally.DataStoreFactory, ts tableSpec, log utils.Logger) (*query, error) {
	table, err := ts.settings()
	if err != nil {
		return nil, err
	}
	fi := expr.NewFieldIndex()
	cops, err := tally.NewCoprocessorsFactory(stores, log).CreateFor(tally.SearchRequest{
		FieldIndex: fi,
		Requests:   []tally.ResultRequest{{ComponentID: component, Table: table}},
	})
	if err != nil {
		return nil, err
	}
	rs := tally.NewResultStore(cops, log)
	if err = rs.Start(); err != nil {
		_ = rs.Destroy()
		return nil, err
	}
	return &query{fi: fi, rs: rs}, nil
}

// row lays out CSV cells by the header names.
func (q *query) row(header []int, cells []string) []val.Val {
	row := make([]val.Val, q.fi.Size())
	for i := range row {
		row[i] = val.Null{}
	}
	for i, cell := range cells {
		if i >= len(header) {
			break
		}
		if pos := header[i]; pos < len(row) {
			row[pos] = val.Parse(cell)
		}
	}
	return row
}

func (q *query) header(names []string) []int {
	header := make([]int, len(names))
	for i, name := range names {
		header[i] = q.fi.GetOrCreate(strings.TrimSpace(name))
	}
	return header
}

// feedCSV sends every record of a CSV stream with a header line.
func (q *query) feedCSV(reader io.Reader) (rows int, err error) {
	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	names, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("can not read CSV header: %w", err)
	}
	header := q.header(names)
	for {
		cells, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		q.rs.Receive(q.row(header, cells))
		rows++
	}
}

func (q *query) data() (*tally.Data, error) {
	return q.rs.Data(component)
}

// keyOf parses "a/b" into the group key a -> b.
func keyOf(path string) tally.Key {
	key := tally.RootKey()
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		key = key.Resolve(tally.NewGroupKeyPart(val.Parse(part)))
	}
	return key
}

func printPage(w io.Writer, data *tally.Data, page tally.Page) {
	names := make([]string, 0, len(data.Fields()))
	for _, f := range data.Fields() {
		names = append(names, f.Name)
	}
	_, _ = fmt.Fprintf(w, "%s\tchildren\n", strings.Join(names, "\t"))
	for _, row := range page.Rows {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", strings.Join(row.Values, "\t"), row.ChildCount)
	}
	_, _ = fmt.Fprintf(w, "rows %d..%d of %d\n", page.Offset, page.Offset+len(page.Rows), page.Total)
}
