package tally

import (
	"bytes"
	"testing"

	"github.com/drpcorg/tally/expr"
	"github.com/stretchr/testify/assert"
)

func TestDumpStore(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	fields := hostFields(t, fi)
	store := makeMapStore(t, AnalyticSettings(), fields)
	ser := store.Serialiser()
	store.ReceiveWithRef(hostKey("a"), ser.NewGenerators(hostRow("a", 3)), EventRef{StreamID: 1, EventID: 2})
	store.Receive(hostKey("a").Resolve(UngroupedKeyPart(1)), ser.NewGenerators(hostRow("a", 3)))
	store.Receive(hostKey("b"), ser.NewGenerators(hostRow("b", 4)))

	buf := bytes.Buffer{}
	DumpStore(&buf, store, fields)
	assert.Equal(t, "host\tcount\tbytes\n"+
		"a:\ta\t1\t3\t@1:2\n"+
		"  #1:\ta\t1\t3\n"+
		"b:\tb\t1\t4\n"+
		"items: 3\n", buf.String())
}

func TestPayloadCodec(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	ser, err := NewItemSerialiser(Expressions(hostFields(t, fi)))
	assert.NoError(t, err)
	p := &Payload{CoprocessorID: 3}
	p.appendItem(hostKey("a").Bytes(), ser.GeneratorBytes(ser.NewGenerators(hostRow("a", 1))), EventRef{StreamID: 4, EventID: 5}, true)
	p.appendItem(hostKey("b").Bytes(), ser.GeneratorBytes(ser.NewGenerators(hostRow("b", 1))), EventRef{}, true)
	events := &Payload{CoprocessorID: 4}
	events.appendRef(EventRef{StreamID: 1, EventID: 1})

	decoded, err := DecodePayloads(EncodePayloads([]*Payload{p, events}))
	assert.NoError(t, err)
	assert.Equal(t, []*Payload{p, events}, decoded)

	var keys []string
	var refs []EventRef
	err = decoded[0].Items(func(raw RawItem, ref EventRef) error {
		key, _, err := ser.ReadRawItem(raw)
		keys = append(keys, key.String())
		refs = append(refs, ref)
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, keys)
	assert.Equal(t, []EventRef{{StreamID: 4, EventID: 5}, {}}, refs)

	list, err := decoded[1].Refs()
	assert.NoError(t, err)
	assert.Equal(t, []EventRef{{StreamID: 1, EventID: 1}}, list)

	_, err = DecodePayloads([]byte("P"))
	assert.ErrorIs(t, err, ErrBadPayload)
}
