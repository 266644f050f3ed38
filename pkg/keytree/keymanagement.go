package keytree

import (
	"sort"

	"github.com/segmentio/ksuid"
)

// KeyManagementScheme is the epoch-based key-rotation protocol built on top
// of the plain map operations: Derive fetches (generating if necessary) the
// key currently in effect for a block, Update additionally marks that block
// for rotation at the next Commit, and Commit closes out the epoch.
//
// Commit returns the keys each updated block held immediately before the
// commit; it does not itself install new values for those blocks. The
// caller is expected to Derive and Insert fresh key material for each
// rotated block afterward — Commit hands back the pre-commit keys so the
// caller can still decrypt existing ciphertext one last time under them
// before re-encrypting under the new ones.
type KeyManagementScheme interface {
	Derive(blockID uint64) (Key, error)
	Update(blockID uint64) (Key, error)
	Commit() ([]BlockKey, error)
}

// Derive returns the key currently in effect for blockID, generating and
// inserting one if none exists yet. Repeated calls within the same epoch
// return the identical key from the cache, even if the tree is mutated
// through InsertNoUpdate in between.
func (t *Tree) Derive(blockID uint64) (Key, error) {
	if cached, ok := t.cachedKeys[blockID]; ok {
		return cached, nil
	}

	existing, err := t.Get(blockID)
	if err == nil {
		t.cachedKeys[blockID] = existing
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	fresh, err := t.generateKey()
	if err != nil {
		return nil, err
	}
	if err := t.Insert(blockID, fresh); err != nil {
		return nil, err
	}
	t.cachedKeys[blockID] = fresh
	return fresh, nil
}

// Reissue generates a fresh key for blockID and installs it in place of
// whatever value is currently there, without ever consulting the cache or
// the tree's existing stored value the way Derive does. Derive's
// existing-value lookup exists so repeated calls return a stable key
// within an epoch; that is exactly wrong the moment after Commit, when a
// rotated block's leaf still holds its pre-commit key and the caller needs
// a genuinely new one. Reissue does not mark blockID for the next epoch's
// rotation.
func (t *Tree) Reissue(blockID uint64) (Key, error) {
	fresh, err := t.generateKey()
	if err != nil {
		return nil, err
	}
	if err := t.InsertNoUpdate(blockID, fresh); err != nil {
		return nil, err
	}
	t.cachedKeys[blockID] = fresh
	return fresh, nil
}

// Update derives blockID's current key and marks it for rotation at the
// next Commit.
func (t *Tree) Update(blockID uint64) (Key, error) {
	key, err := t.Derive(blockID)
	if err != nil {
		return nil, err
	}
	t.updatedBlocks[blockID] = struct{}{}
	t.updatedBlocksDirty = true
	return key, nil
}

// Commit closes out the current epoch: every child-slot key of a node
// touched this epoch is regenerated, and the pre-commit key of every
// updated block is returned so the caller can finish decrypting under it
// before reinserting fresh key material.
func (t *Tree) Commit() ([]BlockKey, error) {
	blockIDs := make([]uint64, 0, len(t.updatedBlocks))
	for id := range t.updatedBlocks {
		blockIDs = append(blockIDs, id)
	}
	sort.Slice(blockIDs, func(i, j int) bool { return blockIDs[i] < blockIDs[j] })

	res := make([]BlockKey, 0, len(blockIDs))
	for _, id := range blockIDs {
		key, err := t.Derive(id)
		if err != nil {
			return nil, err
		}
		res = append(res, BlockKey{BlockID: id, Key: key})
	}

	if err := t.root.Commit(t.updated, t.generateKey); err != nil {
		return nil, err
	}

	t.cachedKeys = make(map[uint64]Key)
	t.updated = make(map[uint64]struct{})
	t.updatedDirty = true
	t.updatedBlocks = make(map[uint64]struct{})
	t.updatedBlocksDirty = true

	return res, nil
}

// CommitResult tags one Commit call's rotated block keys with a unique
// identifier, so operators can correlate a rotation event across logs and
// metrics without that identifier becoming part of the authoritative
// (BlockId, Key) pairs Commit returns.
type CommitResult struct {
	CommitID ksuid.KSUID
	Rotated  []BlockKey
}

// CommitTagged wraps Commit with a fresh commit identifier.
func (t *Tree) CommitTagged() (CommitResult, error) {
	rotated, err := t.Commit()
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{CommitID: ksuid.New(), Rotated: rotated}, nil
}
