package folka

import (
	"github.com/folkastream/folka/storage"
)

// storageProxy wraps a storage with the partition it belongs to and the
// update callback applied during recovery.
type storageProxy struct {
	storage.Storage
	partition int32
	update    UpdateCallback

	openedOnce once
	closedOnce once
}

func (s *storageProxy) Open() error {
	if s == nil {
		return nil
	}
	return s.openedOnce.Do(s.Storage.Open)
}

func (s *storageProxy) Close() error {
	if s == nil {
		return nil
	}
	return s.closedOnce.Do(s.Storage.Close)
}

func (s *storageProxy) Update(k string, v []byte) error {
	return s.update(s.Storage, s.partition, k, v)
}
