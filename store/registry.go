package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Registry keys
const (
	keyBest          = "best"
	prefixSnapshot   = "snapshot/"
	prefixCounter    = "counter/"
	prefixIngested   = "ingested/"
	snapshotKeyWidth = 20
)

// SnapshotMeta describes one saved network snapshot.
type SnapshotMeta struct {
	Version  uint64    `json:"version"`
	Step     int64     `json:"step"`
	Path     string    `json:"path"`
	Parent   uint64    `json:"parent"`
	Score    float64   `json:"score"`
	Games    int       `json:"games"`
	Promoted bool      `json:"promoted"`
	Created  time.Time `json:"created"`
}

// Registry wraps BadgerDB for snapshot bookkeeping: metadata per version,
// the current best version, and named progress counters.
type Registry struct {
	db *badger.DB
}

// OpenRegistry opens (or creates) the registry in dir. An empty dir gives an
// in-memory registry.
func OpenRegistry(dir string) (*Registry, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the database
func (r *Registry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func snapshotKey(version uint64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", prefixSnapshot, snapshotKeyWidth, version))
}

// PutSnapshot stores or replaces the metadata for meta.Version.
func (r *Registry) PutSnapshot(meta SnapshotMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(meta.Version), data)
	})
}

// Snapshot loads the metadata of version; ok is false if unknown.
func (r *Registry) Snapshot(version uint64) (meta SnapshotMeta, ok bool, err error) {
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	return meta, ok, err
}

// Snapshots lists every stored snapshot by ascending version.
func (r *Registry) Snapshots() ([]SnapshotMeta, error) {
	var out []SnapshotMeta
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSnapshot)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var meta SnapshotMeta
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			out = append(out, meta)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, err
}

// SetBest records version as the current best and marks it promoted.
func (r *Registry) SetBest(version uint64) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("set best: unknown snapshot %d", version)
		}
		if err != nil {
			return err
		}
		var meta SnapshotMeta
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
			return err
		}
		meta.Promoted = true
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := txn.Set(snapshotKey(version), data); err != nil {
			return err
		}
		return txn.Set([]byte(keyBest), []byte(fmt.Sprint(version)))
	})
}

// Best returns the current best snapshot metadata; ok is false before any
// snapshot was promoted.
func (r *Registry) Best() (meta SnapshotMeta, ok bool, err error) {
	var version uint64
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyBest))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			_, err := fmt.Sscan(string(val), &version)
			return err
		})
	})
	if err != nil || !ok {
		return meta, false, err
	}
	return r.Snapshot(version)
}

// AddCounter adds delta to a named counter and returns the new value.
func (r *Registry) AddCounter(name string, delta int64) (int64, error) {
	var value int64
	err := r.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixCounter + name)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				_, err := fmt.Sscan(string(val), &value)
				return err
			}); err != nil {
				return err
			}
		}
		value += delta
		return txn.Set(key, []byte(fmt.Sprint(value)))
	})
	return value, err
}

// Counters returns every named counter.
func (r *Registry) Counters() (map[string]int64, error) {
	out := make(map[string]int64)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixCounter)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), prefixCounter)
			var v int64
			if err := item.Value(func(val []byte) error {
				_, err := fmt.Sscan(string(val), &v)
				return err
			}); err != nil {
				return err
			}
			out[name] = v
		}
		return nil
	})
	return out, err
}

// Ingested reports whether the shard name has been marked as loaded.
func (r *Registry) Ingested(name string) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixIngested + name))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// MarkIngested records shard names as loaded, in one transaction.
func (r *Registry) MarkIngested(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	return r.db.Update(func(txn *badger.Txn) error {
		for _, name := range names {
			if name == "" {
				return fmt.Errorf("empty shard name")
			}
			if err := txn.Set([]byte(prefixIngested+name), stamp); err != nil {
				return err
			}
		}
		return nil
	})
}
