// Package options implements OptionMap, a minimal stand-in for the object
// marshalling subsystem the protocol engine treats as an external
// collaborator: a decoder that reads typed values from a byte input and may
// fail with any decoding error.
package options

import (
	"io"

	"github.com/backkem/muxrpc/pkg/wire"
)

// Map is an unordered set of string key/value pairs, the payload carried by
// SERVICE_REQUEST. Encode writes the entries in map iteration order.
type Map map[string]string

// Codec decodes and encodes a Map against the wire format: a big-endian
// uint32 entry count followed by that many utf8z key/value pairs.
type Codec struct {
	// Decode, when non-nil, overrides decoding entirely — used in tests to
	// exercise the SERVICE_REQUEST unmarshalling-failure boundary case.
	Decode func(r io.Reader) (Map, error)
}

// DefaultCodec is a Codec using the standard wire encoding.
var DefaultCodec = &Codec{}

// FailingCodec returns a Codec whose Decode always fails with err,
// standing in for a marshaller that throws on malformed input.
func FailingCodec(err error) *Codec {
	return &Codec{Decode: func(io.Reader) (Map, error) { return nil, err }}
}

func (c *Codec) decode(r io.Reader) (Map, error) {
	if c.Decode != nil {
		return c.Decode(r)
	}
	return decodeDefault(r)
}

func decodeDefault(r io.Reader) (Map, error) {
	countBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, countBuf); err != nil {
		return nil, err
	}
	count, _, ok := wire.Uint32(countBuf)
	if !ok {
		return nil, wire.ErrTruncated
	}

	m := make(Map, count)
	for i := uint32(0); i < count; i++ {
		key, err := readUTF8Z(r)
		if err != nil {
			return nil, err
		}
		val, err := readUTF8Z(r)
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
	return m, nil
}

func readUTF8Z(r io.Reader) (string, error) {
	var b []byte
	var c [1]byte
	for {
		if _, err := io.ReadFull(r, c[:]); err != nil {
			return "", err
		}
		if c[0] == 0 {
			return string(b), nil
		}
		b = append(b, c[0])
	}
}

// Decode reads a Map from r using c, or DefaultCodec if c is nil.
func Decode(c *Codec, r io.Reader) (Map, error) {
	if c == nil {
		c = DefaultCodec
	}
	return c.decode(r)
}

// Encode appends m's wire encoding to dst.
func Encode(dst []byte, m Map) []byte {
	dst = wire.PutUint32(dst, uint32(len(m)))
	for k, v := range m {
		dst = wire.PutUTF8Z(dst, k)
		dst = wire.PutUTF8Z(dst, v)
	}
	return dst
}
