package unary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkedExample(t *testing.T) {
	buf := []byte{0x03, 0x6E, 0x91, 0x75}
	want := []uint64{3, 1, 1, 1, 1, 1, 1, 4, 3, 2, 1, 1, 2, 1, 3, 2, 4}
	got, err := DecodeN(buf, len(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	xs := []uint64{1, 1, 2, 5, 1, 100, 3, 1, 1, 1, 7, 2}
	w := NewWriter()
	for _, x := range xs {
		w.Put(x)
	}
	got, err := DecodeN(w.Bytes(), len(xs))
	require.NoError(t, err)
	require.Equal(t, xs, got)
}

func TestBitOffsetRoundTrip(t *testing.T) {
	off, bit := int64(1234), uint(5)
	packed := SerializeBitOffset(off, bit)
	gotOff, gotBit := DeserializeBitOffset(packed)
	require.Equal(t, off, gotOff)
	require.Equal(t, bit, gotBit)
}

func TestReaderAtRestartsAtGroupStart(t *testing.T) {
	w := NewWriter()
	w.Put(3)
	w.Put(4)
	buf := w.Bytes()

	// Decode the first value to learn where the second one starts.
	r := NewReader(buf)
	_, err := r.Next()
	require.NoError(t, err)
	byteOff, bitOff := r.GetRawIterator()

	fresh := NewReader(buf)
	fresh.At(byteOff, bitOff)
	got, err := fresh.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(4), got)
}

func TestDecodeOverrun(t *testing.T) {
	// All-1s byte with no terminating 0 bit.
	_, err := DecodeN([]byte{0xFF}, 1)
	require.Error(t, err)
}
