package kv

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/table"
)

const (
	codecRaw  = "raw"
	codecJSON = "json"
	codecCBOR = "cbor"
)

// valueCodec converts between command line values and stored bytes
type valueCodec struct {
	name   string
	encode func(arg string) ([]byte, error)
	decode func(data []byte) (any, error)
}

var cborAny = table.CBOR[any]()

func parseCodec(name string) (valueCodec, error) {
	switch name {
	case codecRaw, "":
		return valueCodec{
			name:   codecRaw,
			encode: func(arg string) ([]byte, error) { return []byte(arg), nil },
			decode: func(data []byte) (any, error) { return string(data), nil },
		}, nil
	case codecJSON:
		return valueCodec{
			name: codecJSON,
			encode: func(arg string) ([]byte, error) {
				if !json.Valid([]byte(arg)) {
					return nil, fmt.Errorf("value is not valid JSON")
				}
				return []byte(arg), nil
			},
			decode: func(data []byte) (any, error) {
				var v any
				if err := json.Unmarshal(data, &v); err != nil {
					return nil, fmt.Errorf("stored value is not valid JSON: %w", err)
				}
				return v, nil
			},
		}, nil
	case codecCBOR:
		return valueCodec{
			name: codecCBOR,
			encode: func(arg string) ([]byte, error) {
				var v any
				if err := json.Unmarshal([]byte(arg), &v); err != nil {
					return nil, fmt.Errorf("cbor values are given as JSON: %w", err)
				}
				return cborAny.Encode(v)
			},
			decode: func(data []byte) (any, error) {
				v, err := cborAny.Decode(data)
				if err != nil {
					return nil, fmt.Errorf("stored value is not valid CBOR: %w", err)
				}
				return v, nil
			},
		}, nil
	default:
		return valueCodec{}, fmt.Errorf("invalid codec %q (expected raw, json or cbor)", name)
	}
}
