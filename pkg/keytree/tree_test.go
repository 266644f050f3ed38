package keytree

import (
	"bytes"
	"crypto/rand"
	"sort"
	"testing"

	"github.com/ssargent/bkeytree/pkg/crypter"
	"github.com/ssargent/bkeytree/pkg/objectstore"
)

const testKeySize = 32

func newTestTree(t *testing.T) (*Tree, Key) {
	t.Helper()
	store := objectstore.NewMemoryStore()
	crypt := crypter.New()

	tree, err := NewWithDegree(store, crypt, rand.Reader, testKeySize, 3)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	rootKey := make([]byte, testKeySize)
	if _, err := rand.Read(rootKey); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return tree, rootKey
}

func randomKey(t *testing.T) Key {
	t.Helper()
	k := make([]byte, testKeySize)
	if _, err := rand.Read(k); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return k
}

// TestOrderedMapLaw: inserting a set of blocks and reading them back
// returns exactly what was written, regardless of insertion order.
func TestOrderedMapLaw(t *testing.T) {
	tree, _ := newTestTree(t)

	want := make(map[uint64]Key)
	for i := uint64(0); i < 200; i++ {
		k := randomKey(t)
		want[i] = k
		if err := tree.Insert(i, k); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	for id, k := range want {
		got, err := tree.Get(id)
		if err != nil {
			t.Fatalf("get %d: %v", id, err)
		}
		if !bytes.Equal(got, k) {
			t.Errorf("block %d: got %x, want %x", id, got, k)
		}
	}
}

// TestCountLaw: Len tracks distinct inserted blocks, unaffected by
// overwrite-inserts or failed removes.
func TestCountLaw(t *testing.T) {
	tree, _ := newTestTree(t)

	for i := uint64(0); i < 50; i++ {
		if err := tree.Insert(i, randomKey(t)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if tree.Len() != 50 {
		t.Fatalf("len = %d, want 50", tree.Len())
	}

	// overwrite does not change count
	if err := tree.Insert(10, randomKey(t)); err != nil {
		t.Fatalf("overwrite insert: %v", err)
	}
	if tree.Len() != 50 {
		t.Fatalf("len after overwrite = %d, want 50", tree.Len())
	}

	if err := tree.Remove(10); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if tree.Len() != 49 {
		t.Fatalf("len after remove = %d, want 49", tree.Len())
	}

	if err := tree.Remove(10); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound removing again, got %v", err)
	}
	if tree.Len() != 49 {
		t.Fatalf("len after failed remove = %d, want 49", tree.Len())
	}
}

// TestInsertThenRemoveAllIsEmpty exercises the full CLRS delete machinery
// (leaf removal, predecessor/successor replacement, sibling merges) across
// every key that was inserted.
func TestInsertThenRemoveAllIsEmpty(t *testing.T) {
	tree, _ := newTestTree(t)

	const n = 300
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = uint64(i)
		if err := tree.Insert(ids[i], randomKey(t)); err != nil {
			t.Fatalf("insert %d: %v", ids[i], err)
		}
	}

	// remove in a scrambled order to exercise every CLRS remove case.
	order := append([]uint64(nil), ids...)
	sort.Slice(order, func(i, j int) bool {
		return (order[i]*2654435761)%uint64(n) < (order[j]*2654435761)%uint64(n)
	})

	for _, id := range order {
		if err := tree.Remove(id); err != nil {
			t.Fatalf("remove %d: %v", id, err)
		}
	}

	if !tree.IsEmpty() {
		t.Fatalf("expected empty tree, len = %d", tree.Len())
	}
	for _, id := range ids {
		if ok, err := tree.Contains(id); err != nil || ok {
			t.Fatalf("block %d should be gone: ok=%v err=%v", id, ok, err)
		}
	}
}

// TestPersistenceRoundTrip: writing a tree to an object store and
// reloading it from the resulting Locator reproduces identical contents.
func TestPersistenceRoundTrip(t *testing.T) {
	tree, rootKey := newTestTree(t)

	want := make(map[uint64]Key)
	for i := uint64(0); i < 100; i++ {
		k := randomKey(t)
		want[i] = k
		if err := tree.Insert(i, k); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if err := tree.Persist(rootKey); err != nil {
		t.Fatalf("persist: %v", err)
	}

	reloaded, err := Load(tree.store, tree.crypt, rand.Reader, testKeySize, tree.Locator(), rootKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if reloaded.Len() != len(want) {
		t.Fatalf("reloaded len = %d, want %d", reloaded.Len(), len(want))
	}
	for id, k := range want {
		got, err := reloaded.Get(id)
		if err != nil {
			t.Fatalf("reloaded get %d: %v", id, err)
		}
		if !bytes.Equal(got, k) {
			t.Errorf("reloaded block %d: got %x, want %x", id, got, k)
		}
	}
}

// TestClearAbandonsOldSubtree: after Clear, none of the previously
// inserted blocks are reachable, even though their storage ids were never
// explicitly deallocated.
func TestClearAbandonsOldSubtree(t *testing.T) {
	tree, _ := newTestTree(t)

	for i := uint64(0); i < 40; i++ {
		if err := tree.Insert(i, randomKey(t)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if err := tree.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if !tree.IsEmpty() {
		t.Fatalf("expected empty tree after clear, len=%d", tree.Len())
	}
	if ok, err := tree.Contains(0); err != nil || ok {
		t.Fatalf("block 0 should be gone after clear: ok=%v err=%v", ok, err)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	tree, _ := newTestTree(t)
	if _, err := tree.Get(42); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
