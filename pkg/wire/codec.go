package wire

import (
	"encoding/binary"
)

// PutUint32 appends a big-endian uint32 to dst.
func PutUint32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}

// Uint32 reads a big-endian uint32 from the front of b and returns it along
// with the remaining bytes. Returns ok=false if b is too short.
func Uint32(b []byte) (v uint32, rest []byte, ok bool) {
	if len(b) < 4 {
		return 0, b, false
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], true
}

// PutUTF8Z appends s to dst followed by a terminating NUL byte. s must not
// itself contain a NUL byte.
func PutUTF8Z(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// UTF8Z reads a NUL-terminated string from the front of b and returns it
// along with the remaining bytes. Returns ok=false if no NUL terminator is
// found.
func UTF8Z(b []byte) (s string, rest []byte, ok bool) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], true
		}
	}
	return "", b, false
}
