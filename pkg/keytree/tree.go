package keytree

import (
	"fmt"
	"io"

	"github.com/ssargent/bkeytree/pkg/crypter"
	"github.com/ssargent/bkeytree/pkg/objectstore"
)

// Locator names the object-store ids a Tree's persisted state lives at:
// the root node plus the four metadata sidecar fields. A fresh Tree claims
// these five ids up front (in this order). The four sidecar ids stay fixed
// for the tree's lifetime; the root moves to a different id whenever it
// splits, collapses, or is cleared, so RootID is only current as of the
// moment the Locator was taken.
type Locator struct {
	RootID          uint64
	DegreeID        uint64
	LenID           uint64
	UpdatedID       uint64
	UpdatedBlocksID uint64
}

// Tree is a persistent, encrypted, key-versioning B-tree mapping BlockId to
// a fixed-size symmetric Key. It is single-threaded: callers that share a
// Tree across goroutines must serialize access themselves.
type Tree struct {
	store objectstore.ObjectStore
	crypt crypter.Crypter
	rng   io.Reader

	keySize int
	degree  int
	loc     Locator

	root *Node

	length      int
	lengthDirty bool

	degreeDirty bool

	updated      map[uint64]struct{}
	updatedDirty bool

	updatedBlocks      map[uint64]struct{}
	updatedBlocksDirty bool

	cachedKeys map[uint64]Key
}

// New creates an empty Tree with DefaultDegree, claiming five fresh ids
// from store for the root node and its metadata sidecar fields.
func New(store objectstore.ObjectStore, crypt crypter.Crypter, rng io.Reader, keySize int) (*Tree, error) {
	return NewWithDegree(store, crypt, rng, keySize, DefaultDegree)
}

// NewWithDegree is New with an explicit minimum degree.
func NewWithDegree(store objectstore.ObjectStore, crypt crypter.Crypter, rng io.Reader, keySize int, degree int) (*Tree, error) {
	if degree < 2 {
		return nil, fmt.Errorf("keytree: degree must be >= 2, got %d", degree)
	}

	loc, err := allocLocator(store)
	if err != nil {
		return nil, err
	}

	rootNode := NewNode(loc.RootID, true)

	return &Tree{
		store:         store,
		crypt:         crypt,
		rng:           rng,
		keySize:       keySize,
		degree:        degree,
		loc:           loc,
		root:          rootNode,
		updated:       make(map[uint64]struct{}),
		updatedBlocks: make(map[uint64]struct{}),
		cachedKeys:    make(map[uint64]Key),
		degreeDirty:   true,
		lengthDirty:   true,

		updatedDirty:       true,
		updatedBlocksDirty: true,
	}, nil
}

func allocLocator(store objectstore.ObjectStore) (Locator, error) {
	var loc Locator
	ids := make([]uint64, 5)
	for i := range ids {
		id, err := store.AllocID()
		if err != nil {
			return loc, wrap(KindStorage, err)
		}
		ids[i] = id
	}
	loc.RootID, loc.DegreeID, loc.LenID, loc.UpdatedID, loc.UpdatedBlocksID = ids[0], ids[1], ids[2], ids[3], ids[4]
	return loc, nil
}

// Load reconstructs a Tree from a previously persisted Locator, decrypting
// the root node under rootKey.
func Load(store objectstore.ObjectStore, crypt crypter.Crypter, rng io.Reader, keySize int, loc Locator, rootKey Key) (*Tree, error) {
	meta, err := loadMeta(store, loc)
	if err != nil {
		return nil, err
	}

	root, err := LoadNode(store, crypt, rootKey, loc.RootID)
	if err != nil {
		return nil, err
	}

	return &Tree{
		store:         store,
		crypt:         crypt,
		rng:           rng,
		keySize:       keySize,
		degree:        meta.degree,
		loc:           loc,
		root:          root,
		length:        meta.length,
		updated:       meta.updated,
		updatedBlocks: meta.updatedBlocks,
		cachedKeys:    make(map[uint64]Key),
	}, nil
}

// Locator returns the ids this Tree's state is persisted at, for a caller
// to keep around and pass to Load. RootID is the id of the current root.
func (t *Tree) Locator() Locator {
	loc := t.loc
	loc.RootID = t.root.ID
	return loc
}

// Len returns the number of BlockId entries in the tree.
func (t *Tree) Len() int { return t.length }

// IsEmpty reports whether the tree holds no entries.
func (t *Tree) IsEmpty() bool { return t.length == 0 }

// RootID returns the object-store id of the current root node.
func (t *Tree) RootID() uint64 { return t.root.ID }

// Degree returns the tree's minimum degree.
func (t *Tree) Degree() int { return t.degree }

func (t *Tree) generateKey() (Key, error) {
	buf := make([]byte, t.keySize)
	if _, err := io.ReadFull(t.rng, buf); err != nil {
		return nil, wrap(KindUnknown, err)
	}
	return Key(buf), nil
}

// Contains reports whether blockID has an entry in the tree.
func (t *Tree) Contains(blockID uint64) (bool, error) {
	_, err := t.root.Get(blockID, t.store, t.crypt)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the value associated with blockID.
func (t *Tree) Get(blockID uint64) (Key, error) {
	return t.root.Get(blockID, t.store, t.crypt)
}

// GetMut returns the live value slice associated with blockID, which the
// caller may mutate in place; unlike Insert, this does not mark any node
// as touched for the current epoch.
func (t *Tree) GetMut(blockID uint64) (Key, error) {
	return t.root.Get(blockID, t.store, t.crypt)
}

// GetKeyValue returns blockID alongside its value, mirroring the
// map-style get_key_value accessor.
func (t *Tree) GetKeyValue(blockID uint64) (uint64, Key, error) {
	val, err := t.root.Get(blockID, t.store, t.crypt)
	if err != nil {
		return 0, nil, err
	}
	return blockID, val, nil
}

func (t *Tree) ensureRootNotFull(touched map[uint64]struct{}) error {
	if !t.root.full(t.degree) {
		return nil
	}

	newRootID, err := t.store.AllocID()
	if err != nil {
		return wrap(KindStorage, err)
	}
	childKey, err := t.generateKey()
	if err != nil {
		return err
	}

	newRoot := NewNode(newRootID, false)
	oldRootID := t.root.ID
	newRoot.Children = []child{{id: oldRootID, node: t.root}}
	newRoot.ChildKeys = []Key{childKey}

	if err := newRoot.SplitChild(0, t.degree, t.store, t.crypt, t.generateKey, touched); err != nil {
		return err
	}

	t.root = newRoot
	if touched != nil {
		touched[newRoot.ID] = struct{}{}
		touched[oldRootID] = struct{}{}
	}
	return nil
}

func (t *Tree) insert(blockID uint64, val Key, touched map[uint64]struct{}) error {
	had, err := t.Contains(blockID)
	if err != nil {
		return err
	}
	if err := t.ensureRootNotFull(touched); err != nil {
		return err
	}
	if err := t.root.InsertNonfull(blockID, val, t.degree, t.store, t.crypt, t.generateKey, touched); err != nil {
		return err
	}
	if !had {
		t.length++
		t.lengthDirty = true
	}
	return nil
}

// Insert adds or overwrites the entry for blockID, marking every node the
// insert touches as updated for the current epoch.
func (t *Tree) Insert(blockID uint64, val Key) error {
	if t.updated == nil {
		t.updated = make(map[uint64]struct{})
	}
	t.updatedDirty = true
	return t.insert(blockID, val, t.updated)
}

// InsertNoUpdate behaves like Insert but does not mark any node as updated,
// leaving the current epoch's rotation set untouched.
func (t *Tree) InsertNoUpdate(blockID uint64, val Key) error {
	return t.insert(blockID, val, nil)
}

func (t *Tree) remove(blockID uint64, touched map[uint64]struct{}) (Key, error) {
	val, err := t.root.Get(blockID, t.store, t.crypt)
	if err != nil {
		return nil, err
	}

	if err := t.root.Remove(blockID, t.degree, t.store, t.crypt, t.store.DeallocID, touched); err != nil {
		return nil, err
	}
	t.length--
	t.lengthDirty = true

	if !t.root.Leaf && len(t.root.Keys) == 0 {
		oldRootID := t.root.ID
		onlyChild, err := t.root.accessChild(0, t.store, t.crypt)
		if err != nil {
			return nil, err
		}
		t.root = onlyChild
		if err := t.store.DeallocID(oldRootID); err != nil {
			return nil, wrap(KindStorage, err)
		}
		if touched != nil {
			delete(touched, oldRootID)
			touched[t.root.ID] = struct{}{}
		}
	}

	return val, nil
}

// Remove deletes the entry for blockID.
func (t *Tree) Remove(blockID uint64) error {
	if t.updated == nil {
		t.updated = make(map[uint64]struct{})
	}
	t.updatedDirty = true
	_, err := t.remove(blockID, t.updated)
	return err
}

// RemoveEntry deletes the entry for blockID and returns the value it held.
func (t *Tree) RemoveEntry(blockID uint64) (Key, error) {
	if t.updated == nil {
		t.updated = make(map[uint64]struct{})
	}
	t.updatedDirty = true
	return t.remove(blockID, t.updated)
}

// RemoveNoUpdate behaves like Remove but does not mark any node as updated.
func (t *Tree) RemoveNoUpdate(blockID uint64) error {
	_, err := t.remove(blockID, nil)
	return err
}

// RemoveEntryNoUpdate behaves like RemoveEntry but does not mark any node
// as updated.
func (t *Tree) RemoveEntryNoUpdate(blockID uint64) (Key, error) {
	return t.remove(blockID, nil)
}

// Clear empties the tree. The old root's subtree is abandoned in storage
// (its ids are not deallocated) rather than walked and freed; a caller
// that wants the space reclaimed must do so itself before calling Clear.
func (t *Tree) Clear() error {
	t.root.Clear()

	newRootID, err := t.store.AllocID()
	if err != nil {
		return wrap(KindStorage, err)
	}
	t.root = NewNode(newRootID, true)
	t.length = 0
	t.lengthDirty = true
	t.updated = make(map[uint64]struct{})
	t.updatedDirty = true
	t.updatedBlocks = make(map[uint64]struct{})
	t.updatedBlocksDirty = true
	t.cachedKeys = make(map[uint64]Key)
	return nil
}

// Persist writes the root subtree and any dirty metadata fields to the
// tree's object store, sealing the root under rootKey.
func (t *Tree) Persist(rootKey Key) error {
	if err := t.root.Persist(t.store, t.crypt, rootKey); err != nil {
		return err
	}
	return t.persistMeta(t.store, false)
}

// PersistTo duplicates the tree's full state (root subtree plus every
// metadata field, regardless of dirty bits) into a different object
// store, for snapshot export.
func (t *Tree) PersistTo(other objectstore.ObjectStore, rootKey Key) error {
	if err := t.root.Persist(other, t.crypt, rootKey); err != nil {
		return err
	}
	return t.persistMeta(other, true)
}

// PersistBlock persists only the spine of loaded nodes from the root down
// to the node holding blockID, sealing the root under rootKey. This is an
// optimization over Persist for callers that know only one block's key
// changed; it may write more than the strict minimum if the spine was
// loaded but not actually mutated.
func (t *Tree) PersistBlock(blockID uint64, rootKey Key) error {
	key := rootKey
	cur := t.root
	for {
		if err := cur.persistSelf(t.store, t.crypt, key); err != nil {
			return err
		}
		if cur.Leaf {
			break
		}
		idx, found := cur.findIndex(blockID)
		if found {
			break
		}
		if cur.Children[idx].node == nil {
			break
		}
		key = cur.ChildKeys[idx]
		cur = cur.Children[idx].node
	}
	return t.persistMeta(t.store, false)
}
