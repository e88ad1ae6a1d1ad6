package multierr

import (
	"sync"

	multierror "github.com/hashicorp/go-multierror"
)

// Errors collects errors from multiple goroutines during shutdown or
// teardown of a processor or view. The first error usually stops the
// component, but while winding down more errors may occur; all of them
// are kept.
type Errors struct {
	m    sync.Mutex
	errs *multierror.Error
}

// Collect adds passed error to the list. Nil errors are ignored.
func (e *Errors) Collect(err error) *Errors {
	if err == nil {
		return e
	}
	e.m.Lock()
	e.errs = multierror.Append(e.errs, err)
	e.m.Unlock()
	return e
}

// Merge adds all errors of the other collector.
func (e *Errors) Merge(o *Errors) *Errors {
	if o == nil {
		return e
	}

	o.m.Lock()
	defer o.m.Unlock()
	if o.errs == nil {
		return e
	}
	e.m.Lock()
	defer e.m.Unlock()
	e.errs = multierror.Append(e.errs, o.errs.Errors...)
	return e
}

// HasErrors returns whether at least one error was collected.
func (e *Errors) HasErrors() bool {
	e.m.Lock()
	defer e.m.Unlock()
	return e.errs.ErrorOrNil() != nil
}

func (e *Errors) Error() string {
	e.m.Lock()
	defer e.m.Unlock()
	if e.errs == nil {
		return ""
	}
	return e.errs.Error()
}

// NilOrError returns nil if no error was collected, otherwise the
// collector itself.
func (e *Errors) NilOrError() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
