package storage

import (
	ldbiter "github.com/syndtr/goleveldb/leveldb/iterator"
)

// ldbIterator wraps a leveldb iterator and hides the offset key from the
// caller.
type ldbIterator struct {
	iter ldbiter.Iterator
}

func (i *ldbIterator) Next() bool {
	next := i.iter.Next()
	if string(i.iter.Key()) == offsetKey {
		next = i.iter.Next()
	}
	return next
}

func (i *ldbIterator) Err() error {
	return i.iter.Error()
}

func (i *ldbIterator) Key() []byte {
	return i.iter.Key()
}

func (i *ldbIterator) Value() ([]byte, error) {
	data := i.iter.Value()
	if data == nil {
		return nil, nil
	}

	// the slice is reused by leveldb on the next call to Next
	value := make([]byte, len(data))
	copy(value, data)
	return value, nil
}

func (i *ldbIterator) Release() {
	i.iter.Release()
}

func (i *ldbIterator) Seek(key []byte) bool {
	seeked := i.iter.Seek(key)
	if string(i.iter.Key()) == offsetKey {
		seeked = i.iter.Next()
	}
	return seeked
}
