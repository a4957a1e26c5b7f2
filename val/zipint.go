package val

import (
	"math"
	"math/bits"
)

// ZipUint64 packs uint64 into a shortest possible little-endian byte string
func ZipUint64(v uint64) []byte {
	buf := [8]byte{}
	i := 0
	for v > 0 {
		buf[i] = uint8(v)
		v >>= 8
		i++
	}
	return buf[0:i]
}

func UnzipUint64(zip []byte) (v uint64) {
	for i := len(zip) - 1; i >= 0; i-- {
		v <<= 8
		v |= uint64(zip[i])
	}
	return
}

func ZigZagInt64(i int64) uint64 {
	return uint64(i*2) ^ uint64(i>>63)
}

func ZagZigUint64(u uint64) int64 {
	half := u >> 1
	mask := -(u & 1)
	return int64(half ^ mask)
}

func ZipInt64(v int64) []byte {
	return ZipUint64(ZigZagInt64(v))
}

func UnzipInt64(zip []byte) int64 {
	return ZagZigUint64(UnzipUint64(zip))
}

// ZipFloat64 reverses the bits so that round numbers, which have
// all-zero low mantissa bits, zip short.
func ZipFloat64(f float64) []byte {
	fb := math.Float64bits(f)
	b := bits.Reverse64(fb)
	return ZipUint64(b)
}

func UnzipFloat64(zip []byte) float64 {
	b := UnzipUint64(zip)
	return math.Float64frombits(bits.Reverse64(b))
}

// appendZipped writes a one-byte length and the zipped bytes.
func appendZipped(buf []byte, zip []byte) []byte {
	buf = append(buf, byte(len(zip)))
	return append(buf, zip...)
}

func takeZipped(data []byte) (zip, rest []byte, err error) {
	if len(data) < 1 {
		return nil, nil, ErrBadVal
	}
	n := int(data[0])
	if n > 8 || len(data) < 1+n {
		return nil, nil, ErrBadVal
	}
	return data[1 : 1+n], data[1+n:], nil
}
