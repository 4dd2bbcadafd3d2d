package core_test

import (
	"bytes"
	"testing"

	"ledgervm/core"
)

func TestWriteLogOverlaysBase(t *testing.T) {
	base := core.NewMemStorage()
	base.Put([]byte("k1"), []byte("base1"))

	wl := core.NewWriteLog(base)
	if v, ok, err := wl.Read([]byte("k1")); err != nil || !ok || !bytes.Equal(v, []byte("base1")) {
		t.Fatalf("expected fallthrough read of base value, got %q %v %v", v, ok, err)
	}

	wl.Write([]byte("k1"), []byte("overlay1"))
	if v, ok, _ := wl.Read([]byte("k1")); !ok || !bytes.Equal(v, []byte("overlay1")) {
		t.Fatalf("expected overlay write to shadow base, got %q %v", v, ok)
	}

	if v, _, _ := base.Read([]byte("k1")); !bytes.Equal(v, []byte("base1")) {
		t.Fatal("base storage must not be mutated by the overlay")
	}
}

func TestWriteLogDeleteShadowsBase(t *testing.T) {
	base := core.NewMemStorage()
	base.Put([]byte("k1"), []byte("base1"))

	wl := core.NewWriteLog(base)
	wl.Delete([]byte("k1"))

	if _, ok, _ := wl.Read([]byte("k1")); ok {
		t.Fatal("expected deleted key to read as absent through the overlay")
	}
	if ok, _ := wl.HasKey([]byte("k1")); ok {
		t.Fatal("expected deleted key to report HasKey=false")
	}
}

func TestWriteLogKeysChangedIsOrderedAndScoped(t *testing.T) {
	base := core.NewMemStorage()
	wl := core.NewWriteLog(base)
	wl.Write([]byte("acc/b"), []byte("1"))
	wl.Write([]byte("acc/a"), []byte("2"))
	wl.Write([]byte("other/z"), []byte("3"))

	changed := wl.KeysChanged([]byte("acc/"))
	if len(changed) != 2 {
		t.Fatalf("expected 2 keys under acc/, got %d", len(changed))
	}
	if string(changed[0]) != "acc/a" || string(changed[1]) != "acc/b" {
		t.Fatalf("expected deterministic sorted order, got %v", changed)
	}
}

func TestWriteLogSnapshotIsFrozen(t *testing.T) {
	base := core.NewMemStorage()
	wl := core.NewWriteLog(base)
	wl.Write([]byte("k"), []byte("v1"))

	snap := wl.Snapshot()
	wl.Write([]byte("k"), []byte("v2"))

	if v, _, _ := snap.Read([]byte("k")); !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("expected snapshot to remain frozen at v1, got %q", v)
	}
	if v, _, _ := wl.Read([]byte("k")); !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("expected live overlay to observe v2, got %q", v)
	}
}

func TestMemStorageIterPrefixOrder(t *testing.T) {
	m := core.NewMemStorage()
	m.Put([]byte("p/b"), []byte("2"))
	m.Put([]byte("p/a"), []byte("1"))
	m.Put([]byte("q/x"), []byte("9"))

	it, err := m.IterPrefix([]byte("p/"))
	if err != nil {
		t.Fatalf("IterPrefix: %v", err)
	}
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if len(keys) != 2 || keys[0] != "p/a" || keys[1] != "p/b" {
		t.Fatalf("expected sorted [p/a p/b], got %v", keys)
	}
}
