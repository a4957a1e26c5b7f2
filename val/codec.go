package val

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var ErrBadVal = errors.New("bad value encoding")

// AppendVal writes the type tag followed by the value body.
// Integers and floats are zipped, strings are length-prefixed.
func AppendVal(buf []byte, v Val) []byte {
	if v == nil {
		v = Null{}
	}
	buf = append(buf, byte(v.Type()))
	switch x := v.(type) {
	case Null:
	case Bool:
		if x {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case Long:
		buf = appendZipped(buf, ZipInt64(int64(x)))
	case Date:
		buf = appendZipped(buf, ZipInt64(int64(x)))
	case Double:
		buf = appendZipped(buf, ZipFloat64(float64(x)))
	case String:
		buf = appendZipped(buf, ZipUint64(uint64(len(x))))
		buf = append(buf, x...)
	case Err:
		buf = appendZipped(buf, ZipUint64(uint64(len(x))))
		buf = append(buf, x...)
	}
	return buf
}

func ReadVal(data []byte) (v Val, rest []byte, err error) {
	if len(data) == 0 {
		return nil, nil, ErrBadVal
	}
	t := Type(data[0])
	data = data[1:]
	var zip []byte
	switch t {
	case TypeNull:
		return Null{}, data, nil
	case TypeBool:
		if len(data) < 1 {
			return nil, nil, ErrBadVal
		}
		return Bool(data[0] != 0), data[1:], nil
	case TypeLong, TypeDate, TypeDouble:
		zip, rest, err = takeZipped(data)
		if err != nil {
			return
		}
		switch t {
		case TypeLong:
			v = Long(UnzipInt64(zip))
		case TypeDate:
			v = Date(UnzipInt64(zip))
		default:
			v = Double(UnzipFloat64(zip))
		}
		return v, rest, nil
	case TypeString, TypeErr:
		zip, rest, err = takeZipped(data)
		if err != nil {
			return
		}
		n := UnzipUint64(zip)
		if uint64(len(rest)) < n {
			return nil, nil, ErrBadVal
		}
		s := string(rest[:n])
		if t == TypeErr {
			return Err(s), rest[n:], nil
		}
		return String(s), rest[n:], nil
	default:
		return nil, nil, ErrBadVal
	}
}

// AppendVals writes a big-endian int32 count and the values.
func AppendVals(buf []byte, vals []Val) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(vals)))
	for _, v := range vals {
		buf = AppendVal(buf, v)
	}
	return buf
}

func ReadVals(data []byte) (vals []Val, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, ErrBadVal
	}
	n := int(binary.BigEndian.Uint32(data))
	rest = data[4:]
	if n > len(rest) {
		return nil, nil, ErrBadVal
	}
	vals = make([]Val, 0, n)
	for i := 0; i < n; i++ {
		var v Val
		v, rest, err = ReadVal(rest)
		if err != nil {
			return nil, nil, err
		}
		vals = append(vals, v)
	}
	return vals, rest, nil
}

// Equal compares values by their encoded form, so Long(1) != Double(1).
func Equal(a, b Val) bool {
	var ab, bb [32]byte
	return bytes.Equal(AppendVal(ab[:0], a), AppendVal(bb[:0], b))
}
