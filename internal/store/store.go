// Package store is the durable persistence layer. It backs every table
// (Tasks, Zones, Recipes, VncSessions, ZloginSessions, NatRules,
// PoolIOStats, DiskIOStats, ARCStats, ZFSPools, ZFSDatasets, Disks,
// HostInfo) with a single embedded bbolt database. bbolt's
// single-writer, consistent-read transactions give us bulk upserts with
// no stored procedures or triggers; JSON-like fields are kept as opaque
// strings at this boundary, never queried by the store itself.
//
// Tables are exposed as generic Table[T] handles over named buckets, one
// per entity, so every component gets a typed find/create/update surface
// without hand-rolling (de)serialization.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

// Store wraps a single bbolt database file.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close persists any queued writes and closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Table returns a typed handle onto the named bucket, creating it if it
// doesn't yet exist.
func Table[T any](s *Store, bucket string) (*TableHandle[T], error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring bucket %s: %w", bucket, err)
	}

	return &TableHandle[T]{db: s.db, bucket: bucket}, nil
}

// TableHandle is a generic typed view over one bbolt bucket.
type TableHandle[T any] struct {
	db     *bbolt.DB
	bucket string
}

// ErrConflict is returned by Create when the key already exists.
var ErrConflict = fmt.Errorf("store: key already exists")

// ErrNotFound names a missing key. No TableHandle method returns it: Get
// reports absence as ok=false, and Delete treats an absent key as success.
var ErrNotFound = fmt.Errorf("store: key not found")

// Create persists v under key, failing with ErrConflict if key already
// exists in the bucket.
func (t *TableHandle[T]) Create(key string, v T) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))

		if b.Get([]byte(key)) != nil {
			return ErrConflict
		}

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling %s/%s: %w", t.bucket, key, err)
		}

		return b.Put([]byte(key), data)
	})
}

// Put unconditionally writes v under key, creating or overwriting.
func (t *TableHandle[T]) Put(key string, v T) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling %s/%s: %w", t.bucket, key, err)
		}

		return b.Put([]byte(key), data)
	})
}

// Get finds a row by its primary key.
func (t *TableHandle[T]) Get(key string) (T, bool, error) {
	var out T
	found := false

	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}

		found = true
		return json.Unmarshal(data, &out)
	})

	return out, found, err
}

// Delete removes key if present; it is not an error if key is absent.
func (t *TableHandle[T]) Delete(key string) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(t.bucket)).Delete([]byte(key))
	})
}

// All loads every row in the bucket, keyed by primary key.
func (t *TableHandle[T]) All() (map[string]T, error) {
	out := make(map[string]T)

	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))

		return b.ForEach(func(k, v []byte) error {
			var val T
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("unmarshalling %s/%s: %w", t.bucket, k, err)
			}
			out[string(k)] = val
			return nil
		})
	})

	return out, err
}

// FindOneWhere returns the first row (in bucket iteration order, which
// is key-sorted in bbolt) matching pred.
func (t *TableHandle[T]) FindOneWhere(pred func(T) bool) (T, bool, error) {
	var result T
	found := false

	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))

		return b.ForEach(func(k, v []byte) error {
			if found {
				return nil
			}

			var val T
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("unmarshalling %s/%s: %w", t.bucket, k, err)
			}

			if pred(val) {
				result = val
				found = true
			}
			return nil
		})
	})

	return result, found, err
}

// QueryOptions controls ordering and limiting for FindAllWhere.
type QueryOptions[T any] struct {
	Less  func(a, b T) bool
	Limit int
}

// FindAllWhere returns every row matching pred, optionally sorted by
// opts.Less and truncated to opts.Limit.
func (t *TableHandle[T]) FindAllWhere(pred func(T) bool, opts *QueryOptions[T]) ([]T, error) {
	var out []T

	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))

		return b.ForEach(func(k, v []byte) error {
			var val T
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("unmarshalling %s/%s: %w", t.bucket, k, err)
			}
			if pred == nil || pred(val) {
				out = append(out, val)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if opts != nil && opts.Less != nil {
		sort.SliceStable(out, func(i, j int) bool { return opts.Less(out[i], out[j]) })
	}

	if opts != nil && opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	return out, nil
}

// BulkUpsert writes every item transactionally: a single bbolt.Update
// covers the whole batch, so a batch either entirely applies or entirely
// rolls back.
func (t *TableHandle[T]) BulkUpsert(items map[string]T) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))

		for key, val := range items {
			data, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("marshalling %s/%s: %w", t.bucket, key, err)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// UpdateWhere applies mutate to every row matching pred, in a single
// transaction, returning the number of rows changed. Matching rows are
// collected in a read-only ForEach pass first and the Puts are applied
// only after that scan returns — bbolt's Bucket.ForEach contract
// forbids mutating the bucket mid-scan (the cursor walk is undefined
// once a Put triggers node rebalancing), the same reason DestroyWhere
// defers its Deletes to a second pass.
func (t *TableHandle[T]) UpdateWhere(pred func(T) bool, mutate func(T) T) (int, error) {
	type change struct {
		key  []byte
		data []byte
	}

	count := 0

	err := t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))

		var changes []change
		if err := b.ForEach(func(k, v []byte) error {
			var val T
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("unmarshalling %s/%s: %w", t.bucket, k, err)
			}

			if !pred(val) {
				return nil
			}

			updated := mutate(val)
			data, err := json.Marshal(updated)
			if err != nil {
				return err
			}

			changes = append(changes, change{key: append([]byte{}, k...), data: data})
			return nil
		}); err != nil {
			return err
		}

		for _, c := range changes {
			if err := b.Put(c.key, c.data); err != nil {
				return err
			}
			count++
		}

		return nil
	})

	return count, err
}

// DestroyWhere removes every row matching pred, returning the count
// removed.
func (t *TableHandle[T]) DestroyWhere(pred func(T) bool) (int, error) {
	var toDelete [][]byte

	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))

		return b.ForEach(func(k, v []byte) error {
			var val T
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("unmarshalling %s/%s: %w", t.bucket, k, err)
			}
			if pred(val) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	if len(toDelete) == 0 {
		return 0, nil
	}

	err = t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t.bucket))
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})

	return len(toDelete), err
}
