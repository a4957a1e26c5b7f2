package tally

import (
	"fmt"
	"io"
	"strings"
)

const dumpPageSize = 1024

// DumpStore prints the item tree of a store, one item per line,
// children indented under their parent.
func DumpStore(writer io.Writer, store DataStore, fields []CompiledField) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	fmt.Fprintln(writer, strings.Join(names, "\t"))
	dumpChildren(writer, store, RootKey(), 0)
	fmt.Fprintln(writer, "items:", store.Size())
}

func (d *Data) Dump(writer io.Writer) {
	DumpStore(writer, d.store, d.fields)
}

func dumpChildren(writer io.Writer, store DataStore, parent Key, indent int) {
	for offset := 0; ; offset += dumpPageSize {
		items := store.Children(parent, offset, dumpPageSize)
		for _, item := range items {
			fmt.Fprintln(writer, ItemString(item, indent))
			if item.Key.Grouped() {
				dumpChildren(writer, store, item.Key, indent+1)
			}
		}
		if len(items) < dumpPageSize {
			return
		}
	}
}

func ItemString(item Item, indent int) string {
	line := make([]byte, 0, 128)
	for i := 0; i < indent; i++ {
		line = append(line, ' ', ' ')
	}
	line = append(line, item.Key.Last().String()...)
	line = append(line, ':', '\t')
	for i, v := range item.Values() {
		if i > 0 {
			line = append(line, '\t')
		}
		line = append(line, v.String()...)
	}
	if !item.LatestRef.IsZero() {
		line = append(line, '\t', '@')
		line = append(line, item.LatestRef.String()...)
	}
	return string(line)
}
