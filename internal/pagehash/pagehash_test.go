package pagehash

import "testing"

func TestSetGetDel(t *testing.T) {
	m := New[int]()
	if _, ok := m.Get(0x1000); ok {
		t.Fatal("empty map should not find key")
	}
	m.Set(0x1000, 42)
	if v, ok := m.Get(0x1000); !ok || v != 42 {
		t.Fatalf("Get = %v,%v want 42,true", v, ok)
	}
	m.Set(0x1000, 43)
	if v, _ := m.Get(0x1000); v != 43 {
		t.Fatalf("Set should replace, got %v", v)
	}
	m.Del(0x1000)
	if _, ok := m.Get(0x1000); ok {
		t.Fatal("key should be gone after Del")
	}
}

func TestIterAndLen(t *testing.T) {
	m := New[string]()
	want := map[uintptr]string{0x1000: "a", 0x2000: "b", 0x3000: "c"}
	for k, v := range want {
		m.Set(k, v)
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}
	got := map[uintptr]string{}
	m.Iter(func(k uintptr, v string) { got[k] = v })
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Iter missing/mismatched %x: got %q want %q", k, got[k], v)
		}
	}
}

func TestManyKeysAcrossBuckets(t *testing.T) {
	m := New[int]()
	for i := 0; i < 500; i++ {
		m.Set(uintptr(i*4096), i)
	}
	for i := 0; i < 500; i++ {
		v, ok := m.Get(uintptr(i * 4096))
		if !ok || v != i {
			t.Fatalf("key %d: got %v,%v", i, v, ok)
		}
	}
}
