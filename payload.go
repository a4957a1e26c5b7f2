package tally

import (
	"encoding/binary"
	"errors"

	"github.com/drpcorg/tally/protocol"
	"github.com/drpcorg/tally/val"
)

// Payload carries the changes of one coprocessor since its previous
// payload. Data is a sequence of TLV records:
//
//	I{ K<raw item> R<event ref>? }  table items
//	E<event ref>                     matched events
type Payload struct {
	CoprocessorID int
	Count         int
	Data          []byte
}

func (p *Payload) appendItem(raw RawKey, genBytes []byte, ref EventRef, withRef bool) {
	bm, buf := protocol.OpenHeader(p.Data, 'I')
	kb, buf := protocol.OpenHeader(buf, 'K')
	buf = appendRawItemBytes(buf, raw, genBytes)
	protocol.CloseHeader(buf, kb)
	if withRef && !ref.IsZero() {
		buf = protocol.Append(buf, 'R', ref.AppendTo(nil))
	}
	protocol.CloseHeader(buf, bm)
	p.Data = buf
	p.Count++
}

func appendRawItemBytes(buf []byte, raw RawKey, genBytes []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(raw)))
	buf = append(buf, raw...)
	return append(buf, genBytes...)
}

func (p *Payload) appendRef(ref EventRef) {
	p.Data = protocol.Append(p.Data, 'E', ref.AppendTo(nil))
	p.Count++
}

// Items walks the table items of the payload.
func (p *Payload) Items(fn func(item RawItem, ref EventRef) error) error {
	rest := p.Data
	for len(rest) > 0 {
		body, tail, err := protocol.Take('I', rest)
		if err != nil {
			return errors.Join(ErrBadPayload, err)
		}
		rest = tail
		raw, body, err := protocol.Take('K', body)
		if err != nil {
			return errors.Join(ErrBadPayload, err)
		}
		var ref EventRef
		if len(body) > 0 {
			refBytes, _, err := protocol.Take('R', body)
			if err != nil {
				return errors.Join(ErrBadPayload, err)
			}
			if ref, err = ReadEventRef(refBytes); err != nil {
				return err
			}
		}
		if err = fn(RawItem(raw), ref); err != nil {
			return err
		}
	}
	return nil
}

// Refs lists the matched events of an event payload.
func (p *Payload) Refs() ([]EventRef, error) {
	var refs []EventRef
	rest := p.Data
	for len(rest) > 0 {
		body, tail, err := protocol.Take('E', rest)
		if err != nil {
			return nil, errors.Join(ErrBadPayload, err)
		}
		rest = tail
		ref, err := ReadEventRef(body)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// EncodePayloads frames a batch as P{ N<coprocessor id> C<count> B<data> } records.
func EncodePayloads(payloads []*Payload) []byte {
	var buf []byte
	for _, p := range payloads {
		bm, b := protocol.OpenHeader(buf, 'P')
		b = protocol.Append(b, 'N', val.ZipInt64(int64(p.CoprocessorID)))
		b = protocol.Append(b, 'C', val.ZipInt64(int64(p.Count)))
		bb, b := protocol.OpenHeader(b, 'B')
		b = append(b, p.Data...)
		protocol.CloseHeader(b, bb)
		protocol.CloseHeader(b, bm)
		buf = b
	}
	return buf
}

func DecodePayloads(data []byte) ([]*Payload, error) {
	var ret []*Payload
	for len(data) > 0 {
		body, rest, err := protocol.Take('P', data)
		if err != nil {
			return nil, errors.Join(ErrBadPayload, err)
		}
		data = rest
		id, body, err := protocol.Take('N', body)
		if err != nil {
			return nil, errors.Join(ErrBadPayload, err)
		}
		count, body, err := protocol.Take('C', body)
		if err != nil {
			return nil, errors.Join(ErrBadPayload, err)
		}
		items, _, err := protocol.Take('B', body)
		if err != nil {
			return nil, errors.Join(ErrBadPayload, err)
		}
		ret = append(ret, &Payload{
			CoprocessorID: int(val.UnzipInt64(id)),
			Count:         int(val.UnzipInt64(count)),
			Data:          append([]byte(nil), items...),
		})
	}
	return ret, nil
}
