package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/rayfield/pkg/tag"
)

var (
	bucketMeta  = []byte("meta")
	bucketHosts = []byte("hosts")
	keyNextTag  = []byte("next_tag")
	keyCA       = []byte("ca")
)

// HostRecord is a known host's reconnection information, persisted so
// the manager can tell a returning worker apart from a brand new one
// after a restart.
type HostRecord struct {
	Addr     string `json:"addr"`
	Role     string `json:"role"`
	Checksum uint32 `json:"checksum"`
}

// TagStore is the manager's bbolt-backed persistence for the state a
// restart must not lose: the tag high-water mark (so a restarted
// manager never re-issues a tag that is still live on some host), the
// known-host table, and the certificate authority's root (SaveCA/
// LoadCA). spec.md's distillation left consensus out of scope, so this
// is plain durable local state, not a replicated log.
type TagStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) the manager's state file under
// dataDir.
func Open(dataDir string) (*TagStore, error) {
	path := filepath.Join(dataDir, "rayfield.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketHosts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &TagStore{db: db}, nil
}

func (s *TagStore) Close() error { return s.db.Close() }

// NextTag atomically advances the high-water mark by one and returns
// the newly allocated tag, persisting the new mark before returning
// it so a crash between allocation and use can never hand the same
// tag out twice.
func (s *TagStore) NextTag() (tag.Tag, error) {
	var next uint32
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		cur := b.Get(keyNextTag)
		var val uint32
		if cur != nil {
			val = binary.BigEndian.Uint32(cur)
		}
		if val+1 == uint32(tag.Null) {
			return fmt.Errorf("storage: tag space exhausted")
		}
		next = val + 1
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, next)
		return b.Put(keyNextTag, buf)
	})
	if err != nil {
		return tag.Null, err
	}
	return tag.Tag(next), nil
}

// HighWaterMark returns the most recently allocated tag without
// advancing it, for diagnostics and tests.
func (s *TagStore) HighWaterMark() (uint32, error) {
	var val uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketMeta).Get(keyNextTag)
		if cur != nil {
			val = binary.BigEndian.Uint32(cur)
		}
		return nil
	})
	return val, err
}

// SaveHost persists or updates a known host's reconnection record.
func (s *TagStore) SaveHost(host uint32, rec HostRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: marshal host record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).Put(hostKey(host), data)
	})
}

// DeleteHost removes a host's record, called once it has been evicted
// and is not expected to reconnect under the same id.
func (s *TagStore) DeleteHost(host uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).Delete(hostKey(host))
	})
}

// SaveCA persists the cluster's certificate authority material
// (pkg/security's serialized root cert/key pair) so a restarted
// manager signs host certificates with the same root every other
// process already trusts, instead of minting a new CA - and a new
// CA - on every restart.
func (s *TagStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyCA, data)
	})
}

// LoadCA returns the persisted CA material, or ok=false if none has
// been saved yet (a brand new manager must Initialize and SaveCA
// before issuing any host certificate).
func (s *TagStore) LoadCA() (data []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyCA)
		if v != nil {
			data = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return data, ok, err
}

// LoadHosts returns every persisted host record, keyed by host id.
func (s *TagStore) LoadHosts() (map[uint32]HostRecord, error) {
	out := make(map[uint32]HostRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).ForEach(func(k, v []byte) error {
			var rec HostRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("storage: unmarshal host record %x: %w", k, err)
			}
			out[binary.BigEndian.Uint32(k)] = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func hostKey(host uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, host)
	return buf
}
