package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-dnsml/internal/ml/repos/corpus"
)

var (
	bucketBlocked = []byte(corpus.PoolBlocked)
	bucketAllowed = []byte(corpus.PoolAllowed)
	bucketMeta    = []byte("meta")

	keyVersion = []byte("version")
)

// boltStore implements corpus.Store using bbolt. Each pool lives in its own
// bucket keyed by big-endian position, so iteration returns domains in the
// order they were stored.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (corpus.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlocked, bucketAllowed, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func poolBucket(p corpus.Pool) ([]byte, error) {
	switch p {
	case corpus.PoolBlocked:
		return bucketBlocked, nil
	case corpus.PoolAllowed:
		return bucketAllowed, nil
	}
	return nil, fmt.Errorf("unknown pool %q", p)
}

func metaKey(p corpus.Pool, field string) []byte {
	return []byte(string(p) + "/" + field)
}

// PutPool swaps the pool's bucket for a freshly written one in a single
// transaction and bumps the store version.
func (s *boltStore) PutPool(info corpus.PoolInfo, domains []string) error {
	name, err := poolBucket(info.Pool)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		// keys are appended in order
		b.FillPercent = 1.0
		for i, d := range domains {
			if err := b.Put(u64(uint64(i)), []byte(d)); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(metaKey(info.Pool, "source"), []byte(info.Source)); err != nil {
			return err
		}
		if err := meta.Put(metaKey(info.Pool, "count"), u64(uint64(len(domains)))); err != nil {
			return err
		}
		if err := meta.Put(metaKey(info.Pool, "fetched"), u64(uint64(info.FetchedAt.UnixNano()))); err != nil {
			return err
		}
		var version uint64
		if v := meta.Get(keyVersion); len(v) == 8 {
			version = binary.BigEndian.Uint64(v)
		}
		return meta.Put(keyVersion, u64(version+1))
	})
}

func (s *boltStore) Domains(p corpus.Pool) ([]string, error) {
	name, err := poolBucket(p)
	if err != nil {
		return nil, err
	}
	var out []string
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(name)
		if b == nil {
			return nil
		}
		out = make([]string, 0, b.Stats().KeyN)
		return b.ForEach(func(_, v []byte) error {
			out = append(out, string(v))
			return nil
		})
	})
	return out, err
}

func (s *boltStore) Info(p corpus.Pool) (corpus.PoolInfo, bool, error) {
	info := corpus.PoolInfo{Pool: p}
	if _, err := poolBucket(p); err != nil {
		return info, false, err
	}
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		v := meta.Get(metaKey(p, "fetched"))
		if len(v) != 8 {
			return nil
		}
		ok = true
		info.FetchedAt = time.Unix(0, int64(binary.BigEndian.Uint64(v))).UTC()
		info.Source = string(meta.Get(metaKey(p, "source")))
		if c := meta.Get(metaKey(p, "count")); len(c) == 8 {
			info.Count = int(binary.BigEndian.Uint64(c))
		}
		return nil
	})
	return info, ok, err
}

// Version returns how many pool snapshots have been written.
func (s *boltStore) Version() uint64 {
	var version uint64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyVersion); len(v) == 8 {
			version = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return version
}

// Purge empties every bucket.
func (s *boltStore) Purge() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlocked, bucketAllowed, bucketMeta} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
