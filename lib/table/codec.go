package table

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec converts values of type V to and from their stored bytes.
// Encode errors are reported as InvalidValue, decode errors as Corruption by
// the Table using the codec.
type Codec[V any] struct {
	Name   string
	Encode func(v V) ([]byte, error)
	Decode func(data []byte) (V, error)
}

// --------------------------------------------------------------------------
// Self-describing codecs
// --------------------------------------------------------------------------

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	// deterministic encoding, so equal values always produce equal bytes
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	if cborEnc, err = encOpts.EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}).DecMode(); err != nil {
		panic(err)
	}
}

// CBOR is the default codec for domain structs. Untyped maps decode as
// map[string]any; untyped integers as uint64 (non-negative) or int64.
func CBOR[V any]() Codec[V] {
	return Codec[V]{
		Name: "cbor",
		Encode: func(v V) ([]byte, error) {
			return cborEnc.Marshal(v)
		},
		Decode: func(data []byte) (V, error) {
			var v V
			err := cborDec.Unmarshal(data, &v)
			return v, err
		},
	}
}

// JSON encodes values with encoding/json.
func JSON[V any]() Codec[V] {
	return Codec[V]{
		Name: "json",
		Encode: func(v V) ([]byte, error) {
			return json.Marshal(v)
		},
		Decode: func(data []byte) (V, error) {
			var v V
			err := json.Unmarshal(data, &v)
			return v, err
		},
	}
}

// Gob encodes values with Go's binary gob format.
func Gob[V any]() Codec[V] {
	return Codec[V]{
		Name: "gob",
		Encode: func(v V) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		Decode: func(data []byte) (V, error) {
			var v V
			err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
			return v, err
		},
	}
}

// --------------------------------------------------------------------------
// Fixed binary codecs (big endian)
// --------------------------------------------------------------------------

// String stores a string as a 4 byte length followed by its bytes.
func String() Codec[string] {
	return Codec[string]{
		Name: "string",
		Encode: func(v string) ([]byte, error) {
			out := make([]byte, 4+len(v))
			binary.BigEndian.PutUint32(out, uint32(len(v)))
			copy(out[4:], v)
			return out, nil
		},
		Decode: func(data []byte) (string, error) {
			if len(data) < 4 {
				return "", fmt.Errorf("string: short header (%d bytes)", len(data))
			}
			n := binary.BigEndian.Uint32(data)
			if int(n) != len(data)-4 {
				return "", fmt.Errorf("string: length %d does not match payload %d", n, len(data)-4)
			}
			return string(data[4:]), nil
		},
	}
}

// Bytes stores raw bytes unchanged.
func Bytes() Codec[[]byte] {
	return Codec[[]byte]{
		Name: "bytes",
		Encode: func(v []byte) ([]byte, error) {
			return bytes.Clone(v), nil
		},
		Decode: func(data []byte) ([]byte, error) {
			out := make([]byte, len(data))
			copy(out, data)
			return out, nil
		},
	}
}

// Bool stores a single byte 0 or 1.
func Bool() Codec[bool] {
	return Codec[bool]{
		Name: "bool",
		Encode: func(v bool) ([]byte, error) {
			if v {
				return []byte{1}, nil
			}
			return []byte{0}, nil
		},
		Decode: func(data []byte) (bool, error) {
			if len(data) != 1 || data[0] > 1 {
				return false, fmt.Errorf("bool: invalid encoding %x", data)
			}
			return data[0] == 1, nil
		},
	}
}

// Uint64 stores an 8 byte big endian integer.
func Uint64() Codec[uint64] {
	return Codec[uint64]{
		Name: "uint64",
		Encode: func(v uint64) ([]byte, error) {
			return binary.BigEndian.AppendUint64(nil, v), nil
		},
		Decode: func(data []byte) (uint64, error) {
			if len(data) != 8 {
				return 0, fmt.Errorf("uint64: expected 8 bytes, got %d", len(data))
			}
			return binary.BigEndian.Uint64(data), nil
		},
	}
}

// Int64 stores an 8 byte big endian integer with the sign bit flipped, so
// encoded values sort like the numbers they represent.
func Int64() Codec[int64] {
	return Codec[int64]{
		Name: "int64",
		Encode: func(v int64) ([]byte, error) {
			return binary.BigEndian.AppendUint64(nil, uint64(v)^(1<<63)), nil
		},
		Decode: func(data []byte) (int64, error) {
			if len(data) != 8 {
				return 0, fmt.Errorf("int64: expected 8 bytes, got %d", len(data))
			}
			return int64(binary.BigEndian.Uint64(data) ^ (1 << 63)), nil
		},
	}
}
