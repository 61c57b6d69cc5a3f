package handlemap

import "testing"

func TestPutGet(t *testing.T) {
	m := New()
	m.Put(1, "one")
	m.Put(2, "two")

	if v, ok := m.Get(1); !ok || v != "one" {
		t.Fatalf("Get(1) = %v, %v", v, ok)
	}
	if v, ok := m.Get(2); !ok || v != "two" {
		t.Fatalf("Get(2) = %v, %v", v, ok)
	}
	if _, ok := m.Get(3); ok {
		t.Fatal("Get(3) should miss")
	}
}

func TestRehashOnLoad(t *testing.T) {
	m := New()
	for i := uintptr(0); i < 1000; i++ {
		m.Put(i, int(i))
	}
	if m.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000", m.Len())
	}
	for i := uintptr(0); i < 1000; i++ {
		v, ok := m.Get(i)
		if !ok || v != int(i) {
			t.Fatalf("Get(%d) = %v, %v", i, v, ok)
		}
	}
}

func TestRemove(t *testing.T) {
	m := New()
	m.Put(1, "one")
	m.Put(2, "two")
	m.Remove(1)
	if _, ok := m.Get(1); ok {
		t.Fatal("Get(1) should miss after Remove")
	}
	if v, ok := m.Get(2); !ok || v != "two" {
		t.Fatalf("Get(2) after removing 1: %v, %v", v, ok)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestPutOverwrites(t *testing.T) {
	m := New()
	m.Put(5, "a")
	m.Put(5, "b")
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	if v, _ := m.Get(5); v != "b" {
		t.Fatalf("Get(5) = %v, want b", v)
	}
}
