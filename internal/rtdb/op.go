package rtdb

import (
	"github.com/google/uuid"
)

// Op is the handle for one asynchronous database write. The issuing code
// can wait on Done and inspect Err, or ignore it and let the owner's
// results drain log the outcome.
type Op struct {
	ID    uuid.UUID
	Path  string
	Value any

	Err  error
	done chan struct{}
}

func newOp(path string, value any) *Op {
	return &Op{
		ID:    uuid.New(),
		Path:  path,
		Value: value,
		done:  make(chan struct{}),
	}
}

// Done is closed once the write has completed, successfully or not.
func (o *Op) Done() <-chan struct{} {
	return o.done
}

func (o *Op) finish(err error) {
	o.Err = err
	close(o.done)
}
