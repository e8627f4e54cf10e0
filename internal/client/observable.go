// Package client is the chat client: a resty-backed API client, observable
// application state, and a Store that applies optimistic updates and
// consumes completion streams with debounced rendering.
package client

import (
	"slices"
	"sync"
)

// Observable holds a value and notifies subscribers on every change.
// Subscribers run synchronously on the goroutine that made the change,
// after the lock is released, so they may read the value but must not
// expect to be the only writer.
type Observable[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   []subscriber[T] // live subscribers in registration order
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// NewObservable returns an Observable holding initial.
func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{value: initial}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set replaces the value and notifies subscribers.
func (o *Observable[T]) Set(v T) {
	o.Modify(func(T) (T, bool) { return v, true })
}

// Update applies fn to the current value atomically and notifies
// subscribers with the result.
func (o *Observable[T]) Update(fn func(T) T) {
	o.Modify(func(v T) (T, bool) { return fn(v), true })
}

// Modify is Update for changes that may turn out to be no-ops: when fn
// reports false the value is kept and nobody is notified.
func (o *Observable[T]) Modify(fn func(T) (T, bool)) {
	o.mu.Lock()
	v, changed := fn(o.value)
	if !changed {
		o.mu.Unlock()
		return
	}
	o.value = v
	subs := o.snapshot()
	o.mu.Unlock()
	notify(subs, v)
}

// Subscribe registers fn and returns a function that removes it. fn is not
// called with the current value.
func (o *Observable[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs = append(o.subs, subscriber[T]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			o.subs = slices.DeleteFunc(o.subs, func(s subscriber[T]) bool { return s.id == id })
			o.mu.Unlock()
		})
	}
}

// snapshot copies the subscriber funcs; callers hold o.mu.
func (o *Observable[T]) snapshot() []func(T) {
	out := make([]func(T), len(o.subs))
	for i, s := range o.subs {
		out[i] = s.fn
	}
	return out
}

func notify[T any](subs []func(T), v T) {
	for _, fn := range subs {
		fn(v)
	}
}
