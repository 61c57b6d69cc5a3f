package checksum

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestAdlerCombine(t *testing.T) {
	cases := [][2]int{
		{0, 0},
		{1, 0},
		{0, 1},
		{100, 10000},
		{65536, 1},
		{7, 7},
	}
	for _, c := range cases {
		a := randomBytes(c[0], 1)
		b := randomBytes(c[1], 2)

		want := Adler32(append(bytes.Clone(a), b...))
		got := AdlerCombine(Adler32(a), Adler32(b), int64(len(b)))
		if got != want {
			t.Errorf("AdlerCombine(%d,%d): got %08x want %08x", c[0], c[1], got, want)
		}
	}
}

func TestAdlerCombineNegativeLen(t *testing.T) {
	if got := AdlerCombine(1, 2, -1); got != 0xFFFFFFFF {
		t.Errorf("AdlerCombine negative len: got %08x want ffffffff", got)
	}
}

func TestCRCCombine(t *testing.T) {
	cases := [][2]int{
		{0, 0},
		{1, 0},
		{0, 1},
		{100, 10000},
		{65536, 1},
		{7, 7},
	}
	for _, c := range cases {
		a := randomBytes(c[0], 3)
		b := randomBytes(c[1], 4)

		want := CRC32(append(bytes.Clone(a), b...))
		got := CRCCombine(CRC32(a), CRC32(b), int64(len(b)))
		if got != want {
			t.Errorf("CRCCombine(%d,%d): got %08x want %08x", c[0], c[1], got, want)
		}
	}
}

func randomBytes(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	r.Read(b)
	return b
}
