package multierr

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ErrGroup runs goroutines like errgroup.Group but keeps every error, not
// only the first one.
type ErrGroup struct {
	*errgroup.Group
	err Errors
}

// NewErrGroup creates a new ErrGroup whose context is canceled on the first
// error.
func NewErrGroup(ctx context.Context) (*ErrGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &ErrGroup{Group: g}, ctx
}

// Wait blocks until all goroutines have returned and returns all collected
// errors.
func (g *ErrGroup) Wait() *Errors {
	_ = g.Group.Wait()
	return &g.err
}

// Go runs passed function in a goroutine of the group.
func (g *ErrGroup) Go(f func() error) {
	g.Group.Go(func() error {
		if err := f(); err != nil {
			g.err.Collect(err)
			return err
		}
		return nil
	})
}
