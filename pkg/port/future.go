package port

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errNilFuture = errors.New("nil future")

// Future is a value that becomes available later. It resolves at most once;
// later resolutions are ignored.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that already holds v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.resolve(v, nil)
	return f
}

// Defer runs fn on a new goroutine and returns a future for its result.
// Request handlers return it to answer with a deferred value.
func Defer[T any](fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		defer recoverInto(f)
		v, err := fn()
		f.resolve(v, err)
	}()
	return f
}

// recoverInto resolves f with an error if the calling goroutine panics.
func recoverInto[T any](f *Future[T]) {
	if r := recover(); r != nil {
		var zero T
		f.resolve(zero, fmt.Errorf("deferred panicked: %v", r))
	}
}

// resolve settles the future and reports whether this call did it.
func (f *Future[T]) resolve(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// IsResolved reports whether the future has resolved.
func (f *Future[T]) IsResolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future resolves or ctx is done. Giving up on ctx
// only ends this wait; the underlying request stays pending.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) awaitAny(ctx context.Context) (any, error) {
	if f == nil {
		return nil, errNilFuture
	}
	return f.Await(ctx)
}

// deferred is implemented by every Future so the dispatcher can wait on a
// handler's deferred result regardless of its type parameter.
type deferred interface {
	awaitAny(ctx context.Context) (any, error)
}

// Then returns a future resolved with fn applied to f's value. An error
// from f skips fn.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := newFuture[U]()
	go func() {
		defer recoverInto(out)
		<-f.done
		if f.err != nil {
			var zero U
			out.resolve(zero, f.err)
			return
		}
		out.resolve(fn(f.val))
	}()
	return out
}
