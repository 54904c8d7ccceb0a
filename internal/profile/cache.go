package profile

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
	"github.com/nikandfor/errors"

	"ttadse/internal/dsdb"
)

// Cache keeps per-workload results keyed by the architecture encoding and
// the workload identity, so an architecture reached again is not
// recompiled.
type Cache struct {
	db *badger.DB

	Hits   int
	Misses int
}

// OpenCache opens a cache under dir. An empty dir keeps it in memory.
func OpenCache(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open profile cache")
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// cacheKey hashes the architecture encoding together with the workload
// identity: its path, name and content fingerprint.
func cacheKey(encoded []byte, w dsdb.Workload, fingerprint []byte) []byte {
	h := sha256.New()
	for _, part := range [][]byte{encoded, []byte(w.Path), []byte(w.Name), fingerprint} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	return h.Sum(nil)
}

func (c *Cache) get(key []byte) (*partial, bool, error) {
	var p partial

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.Misses++
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "profile cache read")
	}

	c.Hits++
	return &p, true, nil
}

func (c *Cache) put(key []byte, p *partial) error {
	val, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode cached profile")
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return errors.Wrap(err, "profile cache write")
	}

	return nil
}
