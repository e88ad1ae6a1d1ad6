package multierr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrors_Collect(t *testing.T) {
	var errs Errors
	require.Nil(t, errs.NilOrError())
	require.False(t, errs.HasErrors())

	errs.Collect(nil)
	require.Nil(t, errs.NilOrError())

	errs.Collect(errors.New("some error"))
	require.True(t, errs.HasErrors())
	require.Contains(t, errs.Error(), "some error")

	errs.Collect(errors.New("another error"))
	require.Contains(t, errs.Error(), "another error")
}

func TestErrors_Merge(t *testing.T) {
	var a, b Errors
	a.Collect(errors.New("first"))
	b.Collect(errors.New("second"))

	a.Merge(&b)
	require.Contains(t, a.Error(), "first")
	require.Contains(t, a.Error(), "second")

	var empty Errors
	a.Merge(&empty)
	a.Merge(nil)
	require.True(t, a.HasErrors())
}

func TestErrGroup_CollectsAll(t *testing.T) {
	g, _ := NewErrGroup(context.Background())

	g.Go(func() error { return errors.New("boom") })
	g.Go(func() error { return nil })
	g.Go(func() error { return errors.New("bang") })

	errs := g.Wait()
	require.True(t, errs.HasErrors())
	require.Contains(t, errs.Error(), "boom")
	require.Contains(t, errs.Error(), "bang")
}
