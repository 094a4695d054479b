package keystore

import "testing"

func TestMemory(t *testing.T) {
	m := NewMemory()

	if key, err := m.Get([]byte("abc")); err != nil || key != nil {
		t.Fatalf("Get on empty store = %v, %v; want nil, nil", key, err)
	}

	m.Set([]byte("abc"), []byte("0123456789abcdef0123456789abcdef"))

	key, err := m.Get([]byte("abc"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(key) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("Get = %q, want the stored key", key)
	}

	// returned slice must not alias internal storage
	key[0] = 'X'
	key2, _ := m.Get([]byte("abc"))
	if key2[0] == 'X' {
		t.Fatalf("Get returned an aliased slice")
	}

	m.Delete([]byte("abc"))
	if key, err := m.Get([]byte("abc")); err != nil || key != nil {
		t.Fatalf("Get after Delete = %v, %v; want nil, nil", key, err)
	}
}
