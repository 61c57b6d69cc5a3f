package ddl

import (
	"bytes"
	"testing"
)

func TestAppendPromotesToIndirect(t *testing.T) {
	var l List
	if err := l.Append([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if l.Count() != 1 || l.NBytes() != 3 {
		t.Fatalf("after first append: count=%d nbytes=%d", l.Count(), l.NBytes())
	}

	if err := l.Append([]byte("defgh")); err != nil {
		t.Fatal(err)
	}
	if l.Count() != 2 || l.NBytes() != 8 {
		t.Fatalf("after second append: count=%d nbytes=%d", l.Count(), l.NBytes())
	}

	want := []byte("abcdefgh")
	if got := l.Bytes(0); !bytes.Equal(got, want) {
		t.Fatalf("Bytes() = %q, want %q", got, want)
	}
}

func TestAppendExcessiveDDE(t *testing.T) {
	var l List
	for i := 0; i < MaxElements; i++ {
		if err := l.Append([]byte{byte(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := l.Append([]byte{0}); err == nil {
		t.Fatal("expected ErrExcessiveDDE")
	} else if _, ok := err.(*ErrExcessiveDDE); !ok {
		t.Fatalf("expected *ErrExcessiveDDE, got %T", err)
	}
}

func TestBytesRespectsLimit(t *testing.T) {
	var l List
	l.Append([]byte("hello"))
	l.Append([]byte("world"))
	if got := l.Bytes(3); !bytes.Equal(got, []byte("hel")) {
		t.Fatalf("Bytes(3) = %q", got)
	}
}

func TestClearResetsState(t *testing.T) {
	var l List
	l.Append([]byte("x"))
	l.Append([]byte("y"))
	l.Clear()
	if l.Count() != 0 || l.NBytes() != 0 {
		t.Fatalf("after Clear: count=%d nbytes=%d", l.Count(), l.NBytes())
	}
	if err := l.Append([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if l.Count() != 1 {
		t.Fatalf("after re-append: count=%d", l.Count())
	}
}
