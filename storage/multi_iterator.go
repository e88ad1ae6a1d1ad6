package storage

type multiIterator struct {
	current int
	iters   []Iterator
}

// NewMultiIterator returns an iterator that iterates over all given iterators
// in order.
func NewMultiIterator(iters []Iterator) Iterator {
	if len(iters) == 0 {
		return new(NullIter)
	}

	return &multiIterator{current: 0, iters: iters}
}

func (m *multiIterator) Next() bool {
	for ; m.current < len(m.iters); m.current++ {
		if m.iters[m.current].Next() {
			return true
		}
	}
	return false
}

func (m *multiIterator) Err() error {
	for _, it := range m.iters {
		if err := it.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiIterator) Key() []byte {
	if m.current >= len(m.iters) {
		return nil
	}
	return m.iters[m.current].Key()
}

func (m *multiIterator) Value() ([]byte, error) {
	if m.current >= len(m.iters) {
		return nil, nil
	}
	return m.iters[m.current].Value()
}

func (m *multiIterator) Release() {
	for i := range m.iters {
		m.iters[i].Release()
	}
	m.current = 0
	m.iters = []Iterator{new(NullIter)}
}

func (m *multiIterator) Seek(key []byte) bool {
	var (
		iters []Iterator
		ok    bool
	)
	for i := range m.iters {
		if m.iters[i].Seek(key) {
			iters = append(iters, m.iters[i])
			ok = true
		}
	}
	if ok {
		m.current = 0
		m.iters = iters
	}
	return ok
}

// NullIter is an iterator which is immediately exhausted.
type NullIter struct{}

func (NullIter) Next() bool             { return false }
func (NullIter) Err() error             { return nil }
func (NullIter) Key() []byte            { return nil }
func (NullIter) Value() ([]byte, error) { return nil, nil }
func (NullIter) Release()               {}
func (NullIter) Seek(key []byte) bool   { return false }
