package processing

import (
	"context"
)

// Pipe is a lazily evaluated, single-pass sequence of items. Next returns
// io.EOF once the pipe is exhausted. Pipes are not restartable and are not
// safe for concurrent use.
type Pipe[T any] interface {
	Next(ctx context.Context) (T, error)
}

// Sized is implemented by pipes that know how many items they will yield
// without pulling them.
type Sized interface {
	Len() int
}

// Target consumes the items of a pipe from a channel until it is closed.
type Target[T any] interface {
	WriteItems(ctx context.Context, items <-chan T) error
}

// Pair holds the items matched up by Broadcast.
type Pair[A, B any] struct {
	First  A
	Second B
}
