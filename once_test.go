package folka

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOnce(t *testing.T) {
	var o once

	err := o.Do(func() error { return errors.New("some error") })
	require.Error(t, err)

	// later calls keep returning the first error
	err2 := o.Do(func() error { return nil })
	require.Equal(t, err, err2)
}
