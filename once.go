package folka

import "sync"

type once struct {
	once sync.Once
	err  error
}

// Do runs only once and always returns the same error.
func (o *once) Do(f func() error) error {
	o.once.Do(func() { o.err = f() })
	return o.err
}
