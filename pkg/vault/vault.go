// Package vault is the end-to-end consumer the key tree exists to serve: it
// composes pkg/keytree (key management), pkg/crypter (encryption), and
// pkg/blockstore (ciphertext storage) into Read/Write/Rotate, the workflow
// a block-encrypted storage layer performs around every block access.
package vault

import (
	"fmt"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/ssargent/bkeytree/pkg/blockstore"
	"github.com/ssargent/bkeytree/pkg/crypter"
	"github.com/ssargent/bkeytree/pkg/keytree"
)

// Vault guards a key tree and its backing block store behind a single
// exclusive lock, matching the teacher's KVStore mutex discipline: pkg/keytree
// itself keeps no internal lock, so the first caller with concurrent access
// has to add one.
type Vault struct {
	mutex   sync.Mutex
	tree    *keytree.Tree
	blocks  *blockstore.Store
	crypt   crypter.Crypter
	rootKey keytree.Key
}

// New composes an already-opened tree and block store into a Vault.
func New(tree *keytree.Tree, blocks *blockstore.Store, crypt crypter.Crypter, rootKey keytree.Key) *Vault {
	return &Vault{tree: tree, blocks: blocks, crypt: crypt, rootKey: rootKey}
}

// Read decrypts and returns the plaintext stored at blockID.
func (v *Vault) Read(blockID uint64) ([]byte, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	key, err := v.tree.Get(blockID)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key for block %d: %w", blockID, err)
	}

	ciphertext, err := v.blocks.Get(blockID)
	if err != nil {
		return nil, fmt.Errorf("vault: read block %d: %w", blockID, err)
	}

	plaintext := append([]byte(nil), ciphertext...)
	if err := v.crypt.OnetimeDecrypt(key, plaintext); err != nil {
		return nil, fmt.Errorf("vault: decrypt block %d: %w", blockID, err)
	}
	return plaintext, nil
}

// Derive returns the key currently in effect for blockID, generating one if
// the block has never been seen before.
func (v *Vault) Derive(blockID uint64) (keytree.Key, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.tree.Derive(blockID)
}

// Update returns blockID's pre-rotation key and marks it touched for the
// current epoch, without itself re-encrypting any stored ciphertext.
func (v *Vault) Update(blockID uint64) (keytree.Key, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.tree.Update(blockID)
}

// Write seals plaintext under a freshly updated key and appends it to the
// block store, marking blockID touched for the current rotation epoch.
func (v *Vault) Write(blockID uint64, plaintext []byte) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	key, err := v.tree.Update(blockID)
	if err != nil {
		return fmt.Errorf("vault: update key for block %d: %w", blockID, err)
	}

	ciphertext := append([]byte(nil), plaintext...)
	if err := v.crypt.OnetimeEncrypt(key, ciphertext); err != nil {
		return fmt.Errorf("vault: encrypt block %d: %w", blockID, err)
	}

	if err := v.blocks.Put(blockID, ciphertext); err != nil {
		return fmt.Errorf("vault: write block %d: %w", blockID, err)
	}
	return nil
}

// RotationReport summarizes one Rotate call's effect on stored ciphertext.
type RotationReport struct {
	CommitID ksuid.KSUID
	Rotated  []keytree.BlockKey
}

// Rotate commits the current epoch, then re-encrypts every rotated block's
// ciphertext under a freshly reissued post-commit key: keytree.Commit returns
// only the pre-commit keys and does not itself touch stored key material, so
// the vault is the caller that performs the reissue-and-reencrypt half of the
// rotation protocol. Reissue is used instead of Derive because Derive would
// find the still-unchanged pre-commit value stored under blockID and hand
// it right back.
func (v *Vault) Rotate() (*RotationReport, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	result, err := v.tree.CommitTagged()
	if err != nil {
		return nil, fmt.Errorf("vault: commit: %w", err)
	}

	for _, bk := range result.Rotated {
		ciphertext, err := v.blocks.Get(bk.BlockID)
		if err != nil {
			if err == blockstore.ErrBlockNotFound {
				continue
			}
			return nil, fmt.Errorf("vault: read rotated block %d: %w", bk.BlockID, err)
		}

		plaintext := append([]byte(nil), ciphertext...)
		if err := v.crypt.OnetimeDecrypt(bk.Key, plaintext); err != nil {
			return nil, fmt.Errorf("vault: decrypt rotated block %d: %w", bk.BlockID, err)
		}

		freshKey, err := v.tree.Reissue(bk.BlockID)
		if err != nil {
			return nil, fmt.Errorf("vault: reissue post-commit key for block %d: %w", bk.BlockID, err)
		}

		newCiphertext := append([]byte(nil), plaintext...)
		if err := v.crypt.OnetimeEncrypt(freshKey, newCiphertext); err != nil {
			return nil, fmt.Errorf("vault: re-encrypt rotated block %d: %w", bk.BlockID, err)
		}
		if err := v.blocks.Put(bk.BlockID, newCiphertext); err != nil {
			return nil, fmt.Errorf("vault: rewrite rotated block %d: %w", bk.BlockID, err)
		}
	}

	return &RotationReport{CommitID: result.CommitID, Rotated: result.Rotated}, nil
}

// Persist flushes the key tree's dirty metadata and node state to its
// object store under the vault's retained root key.
func (v *Vault) Persist() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.tree.Persist(v.rootKey)
}

// Stats reports combined key-tree and block-store occupancy.
type Stats struct {
	Blocks     int
	DataSize   int64
	KeysInTree int
	TreeDegree int
}

// Stats returns current vault-wide statistics.
func (v *Vault) Stats() Stats {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	bs := v.blocks.Stats()
	return Stats{
		Blocks:     bs.Blocks,
		DataSize:   bs.DataSize,
		KeysInTree: v.tree.Len(),
		TreeDegree: v.tree.Degree(),
	}
}

// Delete removes a block's stored ciphertext and key material entirely.
func (v *Vault) Delete(blockID uint64) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.blocks.Delete(blockID); err != nil {
		return fmt.Errorf("vault: delete block %d: %w", blockID, err)
	}
	if err := v.tree.Remove(blockID); err != nil {
		return fmt.Errorf("vault: remove key for block %d: %w", blockID, err)
	}
	return nil
}
