package processing

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsized hides the Len of a slice pipe
type unsized[T any] struct {
	Pipe[T]
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	got, err := Collect(ctx, FromSlice(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	empty, err := Collect(ctx, FromSlice[int]())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMap(t *testing.T) {
	ctx := context.Background()
	double := func(_ context.Context, i int) (int, error) { return i * 2, nil }

	mapped := Map(FromSlice(1, 2, 3), double)
	n, ok := Len(mapped)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	got, err := Collect(ctx, mapped)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, got)

	_, ok = Len(Map[int, int](unsized[int]{FromSlice(1)}, double))
	assert.False(t, ok)
}

func TestMapStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	mapped := Map(FromSlice(1, 2, 3), func(_ context.Context, i int) (int, error) {
		if i == 2 {
			return 0, boom
		}
		return i, nil
	})
	got, err := Collect(context.Background(), mapped)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, got)
}

func TestBroadcast(t *testing.T) {
	tests := []struct {
		name        string
		primary     Pipe[int]
		secondary   Pipe[string]
		want        []Pair[int, string]
		wantCtorErr bool
		wantErr     bool
	}{
		{
			name:      "one to many",
			primary:   FromSlice(1, 2, 3),
			secondary: FromSlice("a"),
			want:      []Pair[int, string]{{1, "a"}, {2, "a"}, {3, "a"}},
		},
		{
			name:      "many to many",
			primary:   FromSlice(1, 2),
			secondary: FromSlice("a", "b"),
			want:      []Pair[int, string]{{1, "a"}, {2, "b"}},
		},
		{
			name:      "one to one",
			primary:   FromSlice(1),
			secondary: FromSlice("a"),
			want:      []Pair[int, string]{{1, "a"}},
		},
		{
			name:        "mismatch known up front",
			primary:     FromSlice(1, 2, 3),
			secondary:   FromSlice("a", "b"),
			wantCtorErr: true,
		},
		{
			name:      "mismatch found while pulling, primary longer",
			primary:   unsized[int]{FromSlice(1, 2, 3)},
			secondary: FromSlice("a", "b"),
			wantErr:   true,
		},
		{
			name:      "mismatch found while pulling, secondary longer",
			primary:   unsized[int]{FromSlice(1)},
			secondary: FromSlice("a", "b"),
			wantErr:   true,
		},
		{
			name:      "empty secondary",
			primary:   unsized[int]{FromSlice(1)},
			secondary: unsized[string]{FromSlice[string]()},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe, err := Broadcast(tt.primary, tt.secondary)
			if tt.wantCtorErr {
				assert.ErrorIs(t, err, ErrCardinalityMismatch)
				return
			}
			require.NoError(t, err)
			got, err := Collect(context.Background(), pipe)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCardinalityMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordingTarget struct {
	mu    sync.Mutex
	items []int
	err   error
}

func (r *recordingTarget) WriteItems(_ context.Context, items <-chan int) error {
	for item := range items {
		r.mu.Lock()
		r.items = append(r.items, item)
		r.mu.Unlock()
		if r.err != nil {
			return r.err
		}
	}
	return nil
}

func TestDrain(t *testing.T) {
	first := &recordingTarget{}
	second := &recordingTarget{}
	err := Drain[int](context.Background(), FromSlice(1, 2, 3, 4), first, second)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, first.items)
	assert.Equal(t, []int{1, 2, 3, 4}, second.items)
}

func TestDrainTargetError(t *testing.T) {
	boom := errors.New("disk full")
	err := Drain[int](context.Background(), FromSlice(1, 2, 3, 4), &recordingTarget{err: boom})
	assert.ErrorIs(t, err, boom)
}

type failingPipe struct{ n int }

func (f *failingPipe) Next(context.Context) (int, error) {
	f.n++
	if f.n > 2 {
		return 0, io.ErrUnexpectedEOF
	}
	return f.n, nil
}

func TestDrainSourceError(t *testing.T) {
	target := &recordingTarget{}
	err := Drain[int](context.Background(), &failingPipe{}, target)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []int{1, 2}, target.items)
}
