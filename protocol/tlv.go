// Protocol format is based on ToyTLV (MIT licence) written by Victor Grishchenko in 2024
// Original project: https://github.com/learn-decentralized-systems/toytlv

/*
Package protocol frames payloads exchanged between search workers and the
coordinating node as TLV (type-length-value) records.

A record header is picked by body size and the case of the type letter:

  - tiny, 1 byte: ['0'+len], bodies of 0..9 bytes with a lowercase type
  - short, 2 bytes: [lowercase type, len], bodies up to 255 bytes
  - long, 5 bytes: [uppercase type, 4-byte little-endian len]

Record types are the letters A..Z. Uppercase types never use the tiny
form, so the type survives the round trip.

Records nest: the body of a record may itself be a sequence of records.
Bodies of unknown size are streamed with OpenHeader/CloseHeader.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

const CaseBit uint8 = 'a' - 'A'

const (
	tinyLit       = '0'
	maxTinyBody   = 9
	maxShortBody  = 0xff
	longHeaderLen = 5
)

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadRecord  = errors.New("bad TLV record format")
	ErrWrongType  = errors.New("unexpected TLV record type")
)

type header struct {
	// lit is 'A'..'Z', or tinyLit when the form does not carry the type
	lit  byte
	size int
	body int
}

func readHeader(data []byte) (h header, err error) {
	if len(data) == 0 {
		return h, ErrIncomplete
	}
	first := data[0]
	switch {
	case first >= '0' && first <= '9':
		return header{lit: tinyLit, size: 1, body: int(first - '0')}, nil
	case first >= 'a' && first <= 'z':
		if len(data) < 2 {
			return h, ErrIncomplete
		}
		return header{lit: first - CaseBit, size: 2, body: int(data[1])}, nil
	case first >= 'A' && first <= 'Z':
		if len(data) < longHeaderLen {
			return h, ErrIncomplete
		}
		n := binary.LittleEndian.Uint32(data[1:longHeaderLen])
		if n > math.MaxInt32 {
			return h, ErrBadRecord
		}
		return header{lit: first, size: longHeaderLen, body: int(n)}, nil
	default:
		return h, ErrBadRecord
	}
}

func checkLit(lit byte) byte {
	upper := lit &^ CaseBit
	if upper < 'A' || upper > 'Z' {
		panic("TLV record type is A..Z")
	}
	return upper
}

// AppendHeader picks the shortest header form for the body length.
// A lowercase lit allows the tiny form.
func AppendHeader(into []byte, lit byte, bodylen int) []byte {
	upper := checkLit(lit)
	switch {
	case bodylen <= maxTinyBody && lit != upper:
		return append(into, byte(tinyLit+bodylen))
	case bodylen <= maxShortBody:
		return append(into, upper|CaseBit, byte(bodylen))
	case bodylen > math.MaxInt32:
		panic("oversized TLV record")
	default:
		into = append(into, upper)
		return binary.LittleEndian.AppendUint32(into, uint32(bodylen))
	}
}

// Take cuts one record of the given type off the front of data.
// Tiny records match any type.
func Take(lit byte, data []byte) (body, rest []byte, err error) {
	h, err := readHeader(data)
	if err != nil {
		return nil, data, err
	}
	if h.size+h.body > len(data) {
		return nil, data, ErrIncomplete
	}
	if h.lit != tinyLit && h.lit != checkLit(lit) {
		return nil, data, ErrWrongType
	}
	end := h.size + h.body
	return data[h.size:end], data[end:], nil
}

func bodyLen(body [][]byte) (n int) {
	for _, b := range body {
		n += len(b)
	}
	return
}

// Append writes one record made of the concatenated body pieces.
func Append(into []byte, lit byte, body ...[]byte) []byte {
	into = AppendHeader(into, lit, bodyLen(body))
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

func Record(lit byte, body ...[]byte) []byte {
	return Append(make([]byte, 0, bodyLen(body)+longHeaderLen), lit, body...)
}

// OpenHeader starts a long-form record whose length is filled in by
// CloseHeader once the body has been appended.
//
//	bookmark, buf := OpenHeader(buf, 'X')
//	buf = append(buf, body...)
//	CloseHeader(buf, bookmark)
func OpenHeader(buf []byte, lit byte) (bookmark int, res []byte) {
	res = append(buf, checkLit(lit), 0, 0, 0, 0)
	return len(res), res
}

func CloseHeader(buf []byte, bookmark int) {
	if bookmark < longHeaderLen || len(buf) < bookmark {
		panic("CloseHeader without OpenHeader")
	}
	binary.LittleEndian.PutUint32(buf[bookmark-4:bookmark], uint32(len(buf)-bookmark))
}
