// Package processing takes care of the logistics around pulling items
// through a chain of stages and handing them to a Target.
// Not the processing operation(s) itself.
package processing

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// ErrCardinalityMismatch is returned when two pipes that must be matched
// by position have different lengths.
var ErrCardinalityMismatch = errors.New("unmatched pipe lengths")

type slicePipe[T any] struct {
	items []T
	pos   int
}

// FromSlice returns a sized pipe over items.
func FromSlice[T any](items ...T) Pipe[T] {
	return &slicePipe[T]{items: items}
}

func (p *slicePipe[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if p.pos >= len(p.items) {
		return zero, io.EOF
	}
	item := p.items[p.pos]
	p.pos++
	return item, nil
}

func (p *slicePipe[T]) Len() int {
	return len(p.items)
}

// Len reports the length of p if it is known up front.
func Len[T any](p Pipe[T]) (int, bool) {
	if s, ok := p.(Sized); ok {
		return s.Len(), true
	}
	return 0, false
}

// Collect drains p into a slice.
func Collect[T any](ctx context.Context, p Pipe[T]) ([]T, error) {
	var items []T
	if n, ok := Len(p); ok {
		items = make([]T, 0, n)
	}
	for {
		item, err := p.Next(ctx)
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}

type mapPipe[In, Out any] struct {
	source Pipe[In]
	f      func(context.Context, In) (Out, error)
}

// Map returns a pipe that applies f to every item of source, one output per
// input. Errors from f end the pull they happened in.
func Map[In, Out any](source Pipe[In], f func(context.Context, In) (Out, error)) Pipe[Out] {
	m := &mapPipe[In, Out]{source: source, f: f}
	if _, ok := source.(Sized); ok {
		return &sizedMapPipe[In, Out]{m}
	}
	return m
}

func (m *mapPipe[In, Out]) Next(ctx context.Context) (Out, error) {
	var zero Out
	in, err := m.source.Next(ctx)
	if err != nil {
		return zero, err
	}
	return m.f(ctx, in)
}

type sizedMapPipe[In, Out any] struct {
	*mapPipe[In, Out]
}

func (m *sizedMapPipe[In, Out]) Len() int {
	return m.source.(Sized).Len()
}

type broadcastPipe[A, B any] struct {
	primary   Pipe[A]
	secondary Pipe[B]
	loaded    bool
	single    bool
	first     B
	buffered  []B
	pos       int
}

// Broadcast matches every item of primary with an item of secondary. When
// secondary holds exactly one item it is repeated for every primary item
// (one-to-many); otherwise items are matched by position and both pipes must
// have the same length (many-to-many, one-to-one). secondary is drained on
// the first pull and held for the lifetime of the pipe.
func Broadcast[A, B any](primary Pipe[A], secondary Pipe[B]) (Pipe[Pair[A, B]], error) {
	np, okp := Len(primary)
	ns, oks := Len(secondary)
	if okp && oks && ns != 1 && ns != np {
		return nil, errors.Wrapf(ErrCardinalityMismatch,
			"secondary length (%d) should either be 1 to allow for broadcasting, or match the primary length (%d)", ns, np)
	}
	return &broadcastPipe[A, B]{primary: primary, secondary: secondary}, nil
}

func (b *broadcastPipe[A, B]) load(ctx context.Context) error {
	items, err := Collect(ctx, b.secondary)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.Wrap(ErrCardinalityMismatch, "secondary pipe is empty")
	}
	b.loaded = true
	b.single = len(items) == 1
	b.first = items[0]
	b.buffered = items
	return nil
}

func (b *broadcastPipe[A, B]) Next(ctx context.Context) (Pair[A, B], error) {
	var zero Pair[A, B]
	if !b.loaded {
		if err := b.load(ctx); err != nil {
			return zero, err
		}
	}
	a, err := b.primary.Next(ctx)
	if errors.Is(err, io.EOF) {
		if !b.single && b.pos != len(b.buffered) {
			return zero, errors.Wrapf(ErrCardinalityMismatch,
				"primary pipe ended after %d items, secondary holds %d", b.pos, len(b.buffered))
		}
		return zero, io.EOF
	}
	if err != nil {
		return zero, err
	}
	if b.single {
		b.pos++
		return Pair[A, B]{First: a, Second: b.first}, nil
	}
	if b.pos >= len(b.buffered) {
		return zero, errors.Wrapf(ErrCardinalityMismatch,
			"primary pipe has more items than the %d secondary items", len(b.buffered))
	}
	item := b.buffered[b.pos]
	b.pos++
	return Pair[A, B]{First: a, Second: item}, nil
}

func (b *broadcastPipe[A, B]) Len() int {
	n, _ := Len(b.primary)
	return n
}

// Drain pulls every item from source and hands it to all targets. Pulling
// happens on one goroutine and every target writes from its own goroutine,
// fed through an unbuffered channel. The first error stops the drain.
func Drain[T any](ctx context.Context, source Pipe[T], targets ...Target[T]) error {
	g, ctx := errgroup.WithContext(ctx)

	channels := make([]chan T, len(targets))
	for i, target := range targets {
		channel := make(chan T)
		channels[i] = channel
		target := target
		g.Go(func() error {
			err := target.WriteItems(ctx, channel)
			// keep receiving so the reader never blocks on a failed target
			for range channel {
			}
			return err
		})
	}

	g.Go(func() error {
		defer func() {
			for _, channel := range channels {
				close(channel)
			}
		}()
		for {
			item, err := source.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			for _, channel := range channels {
				select {
				case channel <- item:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	return g.Wait()
}
