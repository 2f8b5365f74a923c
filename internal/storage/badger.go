package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store on top of BadgerDB so controller state
// survives restarts.
type BadgerStore struct {
	db   *badger.DB
	stop chan struct{}
	done sync.WaitGroup
}

// NewBadgerStore opens (or creates) a Badger database in dataDir.
// An empty dataDir opens an in-memory database.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)
	if dataDir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerStore{db: db, stop: make(chan struct{})}
	if dataDir != "" {
		s.done.Add(1)
		go s.runGC()
	}
	return s, nil
}

// runGC reclaims value log space periodically
func (s *BadgerStore) runGC() {
	defer s.done.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

// Get retrieves a value by key
func (s *BadgerStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// Put stores a key-value pair
func (s *BadgerStore) Put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete removes a key; missing keys are not an error
func (s *BadgerStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// List returns keys with prefix in ascending byte order
func (s *BadgerStore) List(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// Stats walks the keyspace; it is meant for diagnostics, not hot paths
func (s *BadgerStore) Stats() StoreStats {
	var stats StoreStats
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			stats.Keys++
			stats.Bytes += int(it.Item().ValueSize())
		}
		return nil
	})
	return stats
}

// Close stops background GC and closes the database
func (s *BadgerStore) Close() error {
	close(s.stop)
	s.done.Wait()
	return s.db.Close()
}
