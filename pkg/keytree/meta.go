package keytree

import (
	"bytes"
	"io"

	"github.com/ssargent/bkeytree/pkg/framing"
	"github.com/ssargent/bkeytree/pkg/objectstore"
)

// loadedMeta is the decoded form of the four metadata sidecar fields.
type loadedMeta struct {
	degree        int
	length        int
	updated       map[uint64]struct{}
	updatedBlocks map[uint64]struct{}
}

func writeIDSet(w io.Writer, set map[uint64]struct{}) error {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return framing.WriteIDs(w, ids)
}

func readIDSet(r io.Reader) (map[uint64]struct{}, error) {
	ids, err := framing.ReadIDs(r)
	if err != nil {
		return nil, err
	}
	set := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func writeObject(store objectstore.ObjectStore, id uint64, data []byte) error {
	wh, err := store.WriteHandle(id)
	if err != nil {
		return wrap(KindStorage, err)
	}
	defer wh.Close()
	if _, err := wh.Write(data); err != nil {
		return wrap(KindWrite, err)
	}
	return nil
}

func readObject(store objectstore.ObjectStore, id uint64) ([]byte, error) {
	rh, err := store.ReadHandle(id)
	if err != nil {
		return nil, wrap(KindStorage, err)
	}
	defer rh.Close()
	data, err := io.ReadAll(rh)
	if err != nil {
		return nil, wrap(KindRead, err)
	}
	return data, nil
}

func loadMeta(store objectstore.ObjectStore, loc Locator) (*loadedMeta, error) {
	degreeBuf, err := readObject(store, loc.DegreeID)
	if err != nil {
		return nil, err
	}
	lenBuf, err := readObject(store, loc.LenID)
	if err != nil {
		return nil, err
	}
	updatedBuf, err := readObject(store, loc.UpdatedID)
	if err != nil {
		return nil, err
	}
	updatedBlocksBuf, err := readObject(store, loc.UpdatedBlocksID)
	if err != nil {
		return nil, err
	}

	degree, err := framing.ReadUint64(bytes.NewReader(degreeBuf))
	if err != nil {
		return nil, wrap(KindDeserialization, err)
	}
	length, err := framing.ReadUint64(bytes.NewReader(lenBuf))
	if err != nil {
		return nil, wrap(KindDeserialization, err)
	}
	updated, err := readIDSet(bytes.NewReader(updatedBuf))
	if err != nil {
		return nil, wrap(KindDeserialization, err)
	}
	updatedBlocks, err := readIDSet(bytes.NewReader(updatedBlocksBuf))
	if err != nil {
		return nil, wrap(KindDeserialization, err)
	}

	return &loadedMeta{
		degree:        int(degree),
		length:        int(length),
		updated:       updated,
		updatedBlocks: updatedBlocks,
	}, nil
}

// persistMeta writes whichever metadata fields are dirty (or all of them,
// if force is set, for snapshot export) to dest, clearing dirty bits on
// the tree's primary store.
func (t *Tree) persistMeta(dest objectstore.ObjectStore, force bool) error {
	if force || t.degreeDirty {
		var buf bytes.Buffer
		if err := framing.WriteUint64(&buf, uint64(t.degree)); err != nil {
			return wrap(KindSerialization, err)
		}
		if err := writeObject(dest, t.loc.DegreeID, buf.Bytes()); err != nil {
			return err
		}
		if !force {
			t.degreeDirty = false
		}
	}

	if force || t.lengthDirty {
		var buf bytes.Buffer
		if err := framing.WriteUint64(&buf, uint64(t.length)); err != nil {
			return wrap(KindSerialization, err)
		}
		if err := writeObject(dest, t.loc.LenID, buf.Bytes()); err != nil {
			return err
		}
		if !force {
			t.lengthDirty = false
		}
	}

	if force || t.updatedDirty {
		var buf bytes.Buffer
		if err := writeIDSet(&buf, t.updated); err != nil {
			return wrap(KindSerialization, err)
		}
		if err := writeObject(dest, t.loc.UpdatedID, buf.Bytes()); err != nil {
			return err
		}
		if !force {
			t.updatedDirty = false
		}
	}

	if force || t.updatedBlocksDirty {
		var buf bytes.Buffer
		if err := writeIDSet(&buf, t.updatedBlocks); err != nil {
			return wrap(KindSerialization, err)
		}
		if err := writeObject(dest, t.loc.UpdatedBlocksID, buf.Bytes()); err != nil {
			return err
		}
		if !force {
			t.updatedBlocksDirty = false
		}
	}

	return nil
}
