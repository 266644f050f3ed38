package keytree

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ssargent/bkeytree/pkg/crypter"
	"github.com/ssargent/bkeytree/pkg/framing"
	"github.com/ssargent/bkeytree/pkg/objectstore"
)

// ErrNotFound is returned when a lookup, removal, or derive call names a
// BlockId the tree does not contain.
var ErrNotFound = errors.New("keytree: block id not found")

// child is the lazily-hydrated reference to a subtree. A nil node means
// Unloaded: only the storage id is known, and the node must be faulted in
// via accessChild before it can be traversed.
type child struct {
	id   uint64
	node *Node
}

// Node is one node of the B-tree: keys and values live at every node
// (not only at leaves), and every child slot carries the symmetric key
// that seals that child's own on-disk form.
type Node struct {
	ID   uint64
	Leaf bool

	Keys []uint64 // BlockIds, kept sorted ascending
	Vals []Key    // parallel to Keys

	Children  []child // len(Keys)+1 when !Leaf, else empty
	ChildKeys []Key   // parallel to Children
}

// NewNode allocates a fresh, empty node with storage id.
func NewNode(id uint64, leaf bool) *Node {
	return &Node{ID: id, Leaf: leaf}
}

// full reports whether n holds the maximum 2*degree-1 keys for the given
// minimum degree.
func (n *Node) full(degree int) bool {
	return len(n.Keys) == 2*degree-1
}

// findIndex returns the position of blockID in n.Keys if present, and the
// insertion/descent index to use if it is not.
func (n *Node) findIndex(blockID uint64) (idx int, found bool) {
	idx = sort.Search(len(n.Keys), func(i int) bool { return n.Keys[i] >= blockID })
	found = idx < len(n.Keys) && n.Keys[idx] == blockID
	return idx, found
}

// accessChild hydrates children[i] if it is currently Unloaded, and returns
// the loaded Node. Hydration is a one-way transition: once loaded, a child
// stays loaded for the Node's lifetime (no eviction).
func (n *Node) accessChild(i int, store objectstore.ObjectStore, crypt crypter.Crypter) (*Node, error) {
	c := &n.Children[i]
	if c.node != nil {
		return c.node, nil
	}
	loaded, err := LoadNode(store, crypt, n.ChildKeys[i], c.id)
	if err != nil {
		return nil, err
	}
	c.node = loaded
	return loaded, nil
}

// LoadNode reads, decrypts, and decodes the node stored at id, sealed under
// key.
func LoadNode(store objectstore.ObjectStore, crypt crypter.Crypter, key Key, id uint64) (*Node, error) {
	rh, err := store.ReadHandle(id)
	if err != nil {
		return nil, wrap(KindStorage, err)
	}
	defer rh.Close()

	readField := func() ([]byte, error) {
		ciphertext, err := framing.ReadLengthPrefixed(rh)
		if err != nil {
			return nil, wrap(KindRead, err)
		}
		if len(ciphertext) > 0 {
			if err := crypt.OnetimeDecrypt(key, ciphertext); err != nil {
				return nil, wrap(KindDecrypt, err)
			}
		}
		return ciphertext, nil
	}

	keysBuf, err := readField()
	if err != nil {
		return nil, err
	}
	valsBuf, err := readField()
	if err != nil {
		return nil, err
	}
	childIDsBuf, err := readField()
	if err != nil {
		return nil, err
	}
	childKeysBuf, err := readField()
	if err != nil {
		return nil, err
	}

	blockIDs, err := framing.ReadIDs(bytes.NewReader(keysBuf))
	if err != nil {
		return nil, wrap(KindDeserialization, err)
	}
	valKeys, err := framing.ReadKeys(bytes.NewReader(valsBuf), len(key))
	if err != nil {
		return nil, wrap(KindDeserialization, err)
	}
	childIDs, err := framing.ReadIDs(bytes.NewReader(childIDsBuf))
	if err != nil {
		return nil, wrap(KindDeserialization, err)
	}
	childKeys, err := framing.ReadKeys(bytes.NewReader(childKeysBuf), len(key))
	if err != nil {
		return nil, wrap(KindDeserialization, err)
	}

	n := &Node{
		ID:   id,
		Leaf: len(childIDs) == 0,
		Keys: blockIDs,
	}
	n.Vals = make([]Key, len(valKeys))
	for i, k := range valKeys {
		n.Vals[i] = Key(k)
	}
	n.Children = make([]child, len(childIDs))
	for i, cid := range childIDs {
		n.Children[i] = child{id: cid}
	}
	n.ChildKeys = make([]Key, len(childKeys))
	for i, k := range childKeys {
		n.ChildKeys[i] = Key(k)
	}

	return n, nil
}

// Persist writes n's subtree to store, persisting every currently-loaded
// child bottom-up under its parent-held key before sealing and writing n
// itself under key.
func (n *Node) Persist(store objectstore.ObjectStore, crypt crypter.Crypter, key Key) error {
	for i := range n.Children {
		if n.Children[i].node != nil {
			if err := n.Children[i].node.Persist(store, crypt, n.ChildKeys[i]); err != nil {
				return err
			}
		}
	}
	return n.persistSelf(store, crypt, key)
}

func (n *Node) persistSelf(store objectstore.ObjectStore, crypt crypter.Crypter, key Key) error {
	childIDs := make([]uint64, len(n.Children))
	for i, c := range n.Children {
		childIDs[i] = c.id
	}
	valKeys := make([][]byte, len(n.Vals))
	for i, v := range n.Vals {
		valKeys[i] = v
	}
	childKeys := make([][]byte, len(n.ChildKeys))
	for i, k := range n.ChildKeys {
		childKeys[i] = k
	}

	writeField := func(wh objectstore.WriteHandle, encode func(*bytes.Buffer) error) error {
		var buf bytes.Buffer
		if err := encode(&buf); err != nil {
			return wrap(KindSerialization, err)
		}
		ciphertext := buf.Bytes()
		if len(ciphertext) > 0 {
			if err := crypt.OnetimeEncrypt(key, ciphertext); err != nil {
				return wrap(KindEncrypt, err)
			}
		}
		if err := framing.WriteLengthPrefixed(wh, ciphertext); err != nil {
			return wrap(KindWrite, err)
		}
		return nil
	}

	wh, err := store.WriteHandle(n.ID)
	if err != nil {
		return wrap(KindStorage, err)
	}
	defer wh.Close()

	if err := writeField(wh, func(b *bytes.Buffer) error { return framing.WriteIDs(b, n.Keys) }); err != nil {
		return err
	}
	if err := writeField(wh, func(b *bytes.Buffer) error { return framing.WriteKeys(b, valKeys) }); err != nil {
		return err
	}
	if err := writeField(wh, func(b *bytes.Buffer) error { return framing.WriteIDs(b, childIDs) }); err != nil {
		return err
	}
	if err := writeField(wh, func(b *bytes.Buffer) error { return framing.WriteKeys(b, childKeys) }); err != nil {
		return err
	}
	return nil
}

// Get returns the value for blockID if it is present anywhere in n's
// subtree, descending and hydrating children as needed.
func (n *Node) Get(blockID uint64, store objectstore.ObjectStore, crypt crypter.Crypter) (Key, error) {
	cur := n
	for {
		idx, found := cur.findIndex(blockID)
		if found {
			return cur.Vals[idx], nil
		}
		if cur.Leaf {
			return nil, ErrNotFound
		}
		next, err := cur.accessChild(idx, store, crypt)
		if err != nil {
			return nil, err
		}
		cur = next
	}
}

// SplitChild splits the full child at index i of n, which must itself not
// be full, promoting the child's median key/value up into n. n itself, the
// left half of the split child, and the newly allocated right half all have
// their on-disk contents changed by this call, so all three land in touched
// when for_update.
//
// Precondition: n is not full, and n.Children[i] is full.
func (n *Node) SplitChild(i int, degree int, store objectstore.ObjectStore, crypt crypter.Crypter, generateKey func() (Key, error), touched map[uint64]struct{}) error {
	left, err := n.accessChild(i, store, crypt)
	if err != nil {
		return err
	}

	mid := degree - 1
	medianBlockID := left.Keys[mid]
	medianVal := left.Vals[mid]

	rightID, err := store.AllocID()
	if err != nil {
		return wrap(KindStorage, err)
	}
	right := NewNode(rightID, left.Leaf)
	right.Keys = append([]uint64(nil), left.Keys[mid+1:]...)
	right.Vals = append([]Key(nil), left.Vals[mid+1:]...)
	if !left.Leaf {
		right.Children = append([]child(nil), left.Children[degree:]...)
		right.ChildKeys = append([]Key(nil), left.ChildKeys[degree:]...)
	}

	left.Keys = left.Keys[:mid]
	left.Vals = left.Vals[:mid]
	if !left.Leaf {
		left.Children = left.Children[:degree]
		left.ChildKeys = left.ChildKeys[:degree]
	}

	rightKey, err := generateKey()
	if err != nil {
		return err
	}

	// insert median into n, and right as a new child just after left
	n.Keys = append(n.Keys, 0)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = medianBlockID

	n.Vals = append(n.Vals, nil)
	copy(n.Vals[i+1:], n.Vals[i:])
	n.Vals[i] = medianVal

	n.Children = append(n.Children, child{})
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = child{id: rightID, node: right}

	n.ChildKeys = append(n.ChildKeys, nil)
	copy(n.ChildKeys[i+2:], n.ChildKeys[i+1:])
	n.ChildKeys[i+1] = rightKey

	if touched != nil {
		touched[n.ID] = struct{}{}
		touched[left.ID] = struct{}{}
		touched[right.ID] = struct{}{}
	}

	return nil
}

// InsertNonfull inserts (blockID, val) into n's subtree. n must not be full
// on entry; callers split a full root before descending into it.
func (n *Node) InsertNonfull(blockID uint64, val Key, degree int, store objectstore.ObjectStore, crypt crypter.Crypter, generateKey func() (Key, error), touched map[uint64]struct{}) error {
	cur := n
	for {
		if touched != nil {
			touched[cur.ID] = struct{}{}
		}

		idx, found := cur.findIndex(blockID)
		if found {
			cur.Vals[idx] = val
			return nil
		}

		if cur.Leaf {
			cur.Keys = append(cur.Keys, 0)
			copy(cur.Keys[idx+1:], cur.Keys[idx:])
			cur.Keys[idx] = blockID

			cur.Vals = append(cur.Vals, nil)
			copy(cur.Vals[idx+1:], cur.Vals[idx:])
			cur.Vals[idx] = val

			return nil
		}

		childNode, err := cur.accessChild(idx, store, crypt)
		if err != nil {
			return err
		}
		if childNode.full(degree) {
			if err := cur.SplitChild(idx, degree, store, crypt, generateKey, touched); err != nil {
				return err
			}
			if blockID == cur.Keys[idx] {
				cur.Vals[idx] = val
				return nil
			}
			if blockID > cur.Keys[idx] {
				idx++
			}
			childNode, err = cur.accessChild(idx, store, crypt)
			if err != nil {
				return err
			}
		}
		cur = childNode
	}
}

// minKey descends to and returns the smallest (BlockId, Key) pair in n's
// subtree.
func (n *Node) minKey(store objectstore.ObjectStore, crypt crypter.Crypter) (uint64, Key, error) {
	cur := n
	for !cur.Leaf {
		next, err := cur.accessChild(0, store, crypt)
		if err != nil {
			return 0, nil, err
		}
		cur = next
	}
	if len(cur.Keys) == 0 {
		return 0, nil, fmt.Errorf("keytree: empty node in minKey descent")
	}
	return cur.Keys[0], cur.Vals[0], nil
}

// maxKey descends to and returns the largest (BlockId, Key) pair in n's
// subtree.
func (n *Node) maxKey(store objectstore.ObjectStore, crypt crypter.Crypter) (uint64, Key, error) {
	cur := n
	for !cur.Leaf {
		next, err := cur.accessChild(len(cur.Children)-1, store, crypt)
		if err != nil {
			return 0, nil, err
		}
		cur = next
	}
	if len(cur.Keys) == 0 {
		return 0, nil, fmt.Errorf("keytree: empty node in maxKey descent")
	}
	last := len(cur.Keys) - 1
	return cur.Keys[last], cur.Vals[last], nil
}

// Remove deletes blockID from n's subtree using the full CLRS three-case
// procedure. n must satisfy the B-tree minimum-occupancy invariant on
// entry for every node along the path except possibly the root.
func (n *Node) Remove(blockID uint64, degree int, store objectstore.ObjectStore, crypt crypter.Crypter, dealloc func(uint64) error, touched map[uint64]struct{}) error {
	idx, found := n.findIndex(blockID)

	if found {
		if n.Leaf {
			// case 1: key is in a leaf, just remove it.
			n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
			n.Vals = append(n.Vals[:idx], n.Vals[idx+1:]...)
			if touched != nil {
				touched[n.ID] = struct{}{}
			}
			return nil
		}

		left, err := n.accessChild(idx, store, crypt)
		if err != nil {
			return err
		}
		right, err := n.accessChild(idx+1, store, crypt)
		if err != nil {
			return err
		}

		if len(left.Keys) >= degree {
			// case 2a: predecessor from the left child.
			predBlockID, predVal, err := left.maxKey(store, crypt)
			if err != nil {
				return err
			}
			n.Keys[idx] = predBlockID
			n.Vals[idx] = predVal
			if touched != nil {
				touched[n.ID] = struct{}{}
			}
			return left.Remove(predBlockID, degree, store, crypt, dealloc, touched)
		}

		if len(right.Keys) >= degree {
			// case 2b: successor from the right child.
			succBlockID, succVal, err := right.minKey(store, crypt)
			if err != nil {
				return err
			}
			n.Keys[idx] = succBlockID
			n.Vals[idx] = succVal
			if touched != nil {
				touched[n.ID] = struct{}{}
			}
			return right.Remove(succBlockID, degree, store, crypt, dealloc, touched)
		}

		// case 2c: both children are minimal, merge key+right into left.
		n.mergeChildren(idx, store, crypt, touched)
		if dealloc != nil {
			if err := dealloc(right.ID); err != nil {
				return err
			}
		}
		if touched != nil {
			touched[n.ID] = struct{}{}
			delete(touched, right.ID)
		}
		merged, err := n.accessChild(idx, store, crypt)
		if err != nil {
			return err
		}
		return merged.Remove(blockID, degree, store, crypt, dealloc, touched)
	}

	if n.Leaf {
		return ErrNotFound
	}

	childNode, err := n.accessChild(idx, store, crypt)
	if err != nil {
		return err
	}

	if len(childNode.Keys) < degree {
		// case 3: the child we're about to descend into is minimal;
		// borrow from a sibling or merge before recursing.
		if idx > 0 {
			leftSib, err := n.accessChild(idx-1, store, crypt)
			if err != nil {
				return err
			}
			if len(leftSib.Keys) >= degree {
				n.borrowFromLeft(idx, store, crypt, touched)
				if touched != nil {
					touched[n.ID] = struct{}{}
				}
				return childNode.Remove(blockID, degree, store, crypt, dealloc, touched)
			}
		}
		if idx < len(n.Children)-1 {
			rightSib, err := n.accessChild(idx+1, store, crypt)
			if err != nil {
				return err
			}
			if len(rightSib.Keys) >= degree {
				n.borrowFromRight(idx, store, crypt, touched)
				if touched != nil {
					touched[n.ID] = struct{}{}
				}
				return childNode.Remove(blockID, degree, store, crypt, dealloc, touched)
			}
		}

		if idx > 0 {
			// merge child into left sibling, then descend into the sibling.
			mergedIdx := idx - 1
			dropped := n.Children[idx].id
			n.mergeChildren(mergedIdx, store, crypt, touched)
			if dealloc != nil {
				if err := dealloc(dropped); err != nil {
					return err
				}
			}
			if touched != nil {
				touched[n.ID] = struct{}{}
				delete(touched, dropped)
			}
			merged, err := n.accessChild(mergedIdx, store, crypt)
			if err != nil {
				return err
			}
			return merged.Remove(blockID, degree, store, crypt, dealloc, touched)
		}

		// merge right sibling into child, then descend into child.
		dropped := n.Children[idx+1].id
		n.mergeChildren(idx, store, crypt, touched)
		if dealloc != nil {
			if err := dealloc(dropped); err != nil {
				return err
			}
		}
		if touched != nil {
			touched[n.ID] = struct{}{}
			delete(touched, dropped)
		}
		merged, err := n.accessChild(idx, store, crypt)
		if err != nil {
			return err
		}
		return merged.Remove(blockID, degree, store, crypt, dealloc, touched)
	}

	return childNode.Remove(blockID, degree, store, crypt, dealloc, touched)
}

// mergeChildren merges n.Children[i+1] and the separator n.Keys[i] into
// n.Children[i], removing the separator and the right child slot from n.
// left is the merge survivor and its on-disk contents change; right is
// deallocated by the caller, so only left is marked touched.
func (n *Node) mergeChildren(i int, store objectstore.ObjectStore, crypt crypter.Crypter, touched map[uint64]struct{}) {
	left := n.Children[i].node
	right := n.Children[i+1].node

	left.Keys = append(left.Keys, n.Keys[i])
	left.Vals = append(left.Vals, n.Vals[i])
	left.Keys = append(left.Keys, right.Keys...)
	left.Vals = append(left.Vals, right.Vals...)
	if !left.Leaf {
		left.Children = append(left.Children, right.Children...)
		left.ChildKeys = append(left.ChildKeys, right.ChildKeys...)
	}

	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	n.Vals = append(n.Vals[:i], n.Vals[i+1:]...)
	n.Children = append(n.Children[:i+1], n.Children[i+2:]...)
	n.ChildKeys = append(n.ChildKeys[:i+1], n.ChildKeys[i+2:]...)

	if touched != nil {
		touched[left.ID] = struct{}{}
	}
}

// borrowFromLeft rotates one key from n.Children[i-1] through n into
// n.Children[i]. Both recv and sibling have their on-disk contents change.
func (n *Node) borrowFromLeft(i int, store objectstore.ObjectStore, crypt crypter.Crypter, touched map[uint64]struct{}) {
	recv := n.Children[i].node
	sibling := n.Children[i-1].node

	recv.Keys = append([]uint64{n.Keys[i-1]}, recv.Keys...)
	recv.Vals = append([]Key{n.Vals[i-1]}, recv.Vals...)

	last := len(sibling.Keys) - 1
	n.Keys[i-1] = sibling.Keys[last]
	n.Vals[i-1] = sibling.Vals[last]
	sibling.Keys = sibling.Keys[:last]
	sibling.Vals = sibling.Vals[:last]

	if !recv.Leaf {
		lastChild := len(sibling.Children) - 1
		recv.Children = append([]child{sibling.Children[lastChild]}, recv.Children...)
		recv.ChildKeys = append([]Key{sibling.ChildKeys[lastChild]}, recv.ChildKeys...)
		sibling.Children = sibling.Children[:lastChild]
		sibling.ChildKeys = sibling.ChildKeys[:lastChild]
	}

	if touched != nil {
		touched[recv.ID] = struct{}{}
		touched[sibling.ID] = struct{}{}
	}
}

// borrowFromRight rotates one key from n.Children[i+1] through n into
// n.Children[i]. Both recv and sibling have their on-disk contents change.
func (n *Node) borrowFromRight(i int, store objectstore.ObjectStore, crypt crypter.Crypter, touched map[uint64]struct{}) {
	recv := n.Children[i].node
	sibling := n.Children[i+1].node

	recv.Keys = append(recv.Keys, n.Keys[i])
	recv.Vals = append(recv.Vals, n.Vals[i])

	n.Keys[i] = sibling.Keys[0]
	n.Vals[i] = sibling.Vals[0]
	sibling.Keys = sibling.Keys[1:]
	sibling.Vals = sibling.Vals[1:]

	if !recv.Leaf {
		recv.Children = append(recv.Children, sibling.Children[0])
		recv.ChildKeys = append(recv.ChildKeys, sibling.ChildKeys[0])
		sibling.Children = sibling.Children[1:]
		sibling.ChildKeys = sibling.ChildKeys[1:]
	}

	if touched != nil {
		touched[recv.ID] = struct{}{}
		touched[sibling.ID] = struct{}{}
	}
}

// Clear empties n and, recursively, every currently loaded child, without
// deallocating any storage id. Unloaded subtrees are left exactly as they
// are on disk; the caller is expected to replace the root afterward, which
// abandons them.
func (n *Node) Clear() {
	for i := range n.Children {
		if n.Children[i].node != nil {
			n.Children[i].node.Clear()
		}
	}
	n.Keys = nil
	n.Vals = nil
	n.Children = nil
	n.ChildKeys = nil
	n.Leaf = true
}

// Commit walks n's subtree and regenerates the child key for every child
// slot whose id is present in updated, recursing only into children that
// are already loaded (an unloaded, untouched child cannot itself contain
// any newly-updated node).
func (n *Node) Commit(updated map[uint64]struct{}, generateKey func() (Key, error)) error {
	for i := range n.Children {
		c := &n.Children[i]
		if _, isUpdated := updated[c.id]; isUpdated {
			newKey, err := generateKey()
			if err != nil {
				return err
			}
			n.ChildKeys[i] = newKey
		}
		if c.node != nil {
			if err := c.node.Commit(updated, generateKey); err != nil {
				return err
			}
		}
	}
	return nil
}
