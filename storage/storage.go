package storage

import (
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	ldbiter "github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	// offsetKey stores the highest changelog offset applied to the local state.
	// It lives next to the user keys and is hidden from iterators.
	offsetKey = "__offset"
)

// Iterator provides iteration access to the stored values.
type Iterator interface {
	// Next advances the iterator to the next key.
	Next() bool
	// Err returns the possible iteration error.
	Err() error
	// Key gets the current key. If the iterator is exhausted, key will return
	// nil.
	Key() []byte
	// Value gets the current value.
	Value() ([]byte, error)
	// Release releases the iterator. After release, the iterator is not usable
	// anymore.
	Release()
	// Seek moves the iterator to the begining of a key-value pair sequence that
	// is greater or equal to the given key. It returns whether at least one of
	// such key-value pairs exist.
	Seek(key []byte) bool
}

// Storage is the interface folka expects from a storage implementation.
// Implementations of this interface must be safe for any number of concurrent
// readers with one writer.
type Storage interface {
	// Opens the storage, e.g. connect to the backend or open files on disk.
	Open() error
	// Close closes the storage flushing all pending writes.
	Close() error
	// Has returns whether the given key exists.
	Has(key string) (bool, error)
	// Get returns the value associated with the given key. If the key does not
	// exist, a nil will be returned.
	Get(key string) ([]byte, error)
	// Set stores a key-value pair.
	Set(key string, value []byte) error
	// Delete removes a key-value pair from the storage.
	Delete(key string) error
	// GetOffset returns the local offset of the storage, i.e. the offset of the
	// last applied changelog message. It returns defValue if no offset was
	// stored yet.
	GetOffset(defValue int64) (int64, error)
	// SetOffset stores the given offset in the storage.
	SetOffset(value int64) error
	// MarkRecovered marks the storage as recovered. Recovered storages may
	// handle write access differently, e.g. start flushing to disk.
	MarkRecovered() error
	// Iterator returns an iterator that traverses over a snapshot of the
	// storage.
	Iterator() (Iterator, error)
	// IteratorWithRange returns an iterator that traverses over a snapshot of
	// the storage within the given key range. Start and limit define a
	// half-open range [start, limit). If either is nil or empty, the range is
	// unbounded on that side.
	IteratorWithRange(start, limit []byte) (Iterator, error)
}

// store is the common interface between a leveldb transaction and db instance.
type store interface {
	Has([]byte, *opt.ReadOptions) (bool, error)
	Get([]byte, *opt.ReadOptions) ([]byte, error)
	Put([]byte, []byte, *opt.WriteOptions) error
	Delete([]byte, *opt.WriteOptions) error
	NewIterator(*util.Range, *opt.ReadOptions) ldbiter.Iterator
}

type storage struct {
	// store is the active store, either db or tx
	store store
	db    *leveldb.DB
	// tx batches the recovery writes and is committed on MarkRecovered
	tx *leveldb.Transaction
}

// New creates a new Storage backed by LevelDB. Until MarkRecovered is called,
// all writes go through a leveldb transaction to avoid syncing every single
// recovery message to disk.
func New(db *leveldb.DB) (Storage, error) {
	tx, err := db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("error opening leveldb transaction: %v", err)
	}

	return &storage{
		store: tx,
		db:    db,
		tx:    tx,
	}, nil
}

func (s *storage) Iterator() (Iterator, error) {
	return &ldbIterator{
		iter: s.store.NewIterator(nil, nil),
	}, nil
}

func (s *storage) IteratorWithRange(start, limit []byte) (Iterator, error) {
	var rng *util.Range
	if len(limit) > 0 {
		rng = &util.Range{Start: start, Limit: limit}
	} else {
		rng = util.BytesPrefix(start)
	}
	return &ldbIterator{
		iter: s.store.NewIterator(rng, nil),
	}, nil
}

func (s *storage) Has(key string) (bool, error) {
	return s.store.Has([]byte(key), nil)
}

func (s *storage) Get(key string) ([]byte, error) {
	if has, err := s.store.Has([]byte(key), nil); err != nil {
		return nil, fmt.Errorf("error checking for existence in leveldb (key %s): %v", key, err)
	} else if !has {
		return nil, nil
	}

	value, err := s.store.Get([]byte(key), nil)
	if err != nil {
		return nil, fmt.Errorf("error getting from leveldb (key %s): %v", key, err)
	}
	return value, nil
}

func (s *storage) GetOffset(defValue int64) (int64, error) {
	data, err := s.Get(offsetKey)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return defValue, nil
	}

	value, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error decoding offset (%s): %v", string(data), err)
	}
	return value, nil
}

func (s *storage) Set(key string, value []byte) error {
	if err := s.store.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("error setting to leveldb (key %s): %v", key, err)
	}
	return nil
}

func (s *storage) SetOffset(offset int64) error {
	return s.Set(offsetKey, []byte(strconv.FormatInt(offset, 10)))
}

func (s *storage) Delete(key string) error {
	if err := s.store.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("error deleting from leveldb (key %s): %v", key, err)
	}
	return nil
}

func (s *storage) MarkRecovered() error {
	if s.store == s.db {
		return nil
	}

	s.store = s.db
	return s.tx.Commit()
}

func (s *storage) Open() error {
	return nil
}

func (s *storage) Close() error {
	if s.store == s.tx {
		if err := s.tx.Commit(); err != nil {
			return fmt.Errorf("error closing leveldb transaction: %v", err)
		}
	}

	return s.db.Close()
}
