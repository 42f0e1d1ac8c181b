// Package borsh implements the minimal subset of the Borsh binary
// serialization format needed to reproduce NEP-413 signed-message hashing:
// fixed-width integers, raw byte arrays, UTF-8 strings (u32 length prefix)
// and Option<T> (one presence byte followed by T if present). There is no
// general-purpose Borsh library in the pack; this file exists because of
// that gap, not as a replacement for one — see DESIGN.md.
package borsh

import (
	"encoding/binary"
)

// Writer accumulates a Borsh-encoded byte stream.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

// String writes a UTF-8 string as a u32 length prefix followed by raw bytes.
func (w *Writer) String(s string) *Writer {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, s...)
	return w
}

// FixedBytes writes raw bytes with no length prefix (for fixed-size arrays
// like a 32-byte nonce).
func (w *Writer) FixedBytes(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// OptionString writes Option<String>: a single 0x00 byte if nil, else 0x01
// followed by the String encoding.
func (w *Writer) OptionString(s *string) *Writer {
	if s == nil {
		w.buf = append(w.buf, 0x00)
		return w
	}
	w.buf = append(w.buf, 0x01)
	return w.String(*s)
}

// U32LE writes a little-endian uint32, used for the NEP-413 tag prefix
// (which precedes the Borsh payload, not part of it, but shares the same
// fixed-width little-endian encoding).
func U32LE(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// U8 writes a single byte, typically an enum discriminant.
func (w *Writer) U8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) *Writer {
	w.buf = append(w.buf, U32LE(v)...)
	return w
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// U128 writes a 128-bit unsigned integer as 16 little-endian bytes, used for
// yoctoNEAR deposit amounts. v must fit in 128 bits; it is supplied as a
// big-endian byte slice of up to 16 bytes (e.g. from (*big.Int).Bytes()).
func (w *Writer) U128(beBytes []byte) *Writer {
	var b [16]byte
	n := len(beBytes)
	if n > 16 {
		n = 16
		beBytes = beBytes[len(beBytes)-16:]
	}
	for i := 0; i < n; i++ {
		b[15-i] = beBytes[n-1-i]
	}
	w.buf = append(w.buf, b[:]...)
	return w
}

// Bytes writes a Vec<u8>: a u32 length prefix followed by the raw bytes.
func (w *Writer) VecU8(b []byte) *Writer {
	w.buf = append(w.buf, U32LE(uint32(len(b)))...)
	w.buf = append(w.buf, b...)
	return w
}
