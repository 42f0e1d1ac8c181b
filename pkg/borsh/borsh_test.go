package borsh

import (
	"bytes"
	"testing"
)

func TestWriterString(t *testing.T) {
	w := NewWriter()
	w.String("hi")
	want := []byte{2, 0, 0, 0, 'h', 'i'}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("got %v, want %v", w.Bytes(), want)
	}
}

func TestWriterOptionString(t *testing.T) {
	w := NewWriter()
	w.OptionString(nil)
	if !bytes.Equal(w.Bytes(), []byte{0}) {
		t.Fatalf("nil option: got %v", w.Bytes())
	}

	w2 := NewWriter()
	s := "x"
	w2.OptionString(&s)
	want := []byte{1, 1, 0, 0, 0, 'x'}
	if !bytes.Equal(w2.Bytes(), want) {
		t.Fatalf("some option: got %v, want %v", w2.Bytes(), want)
	}
}

func TestU32LE(t *testing.T) {
	got := U32LE(2147484061)
	want := []byte{0x9d, 0x01, 0x00, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFixedBytes(t *testing.T) {
	w := NewWriter()
	w.FixedBytes([]byte{1, 2, 3})
	if !bytes.Equal(w.Bytes(), []byte{1, 2, 3}) {
		t.Fatalf("got %v", w.Bytes())
	}
}
