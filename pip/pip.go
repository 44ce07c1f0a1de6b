// Package pip implements the attribute stream provider registry (the
// engine's Policy Information Points). An attribute finder resolves a named
// external attribute into a lazy sequence of JSON values: infinite for
// continuously updating sources such as a clock, finite (often a single
// value) for static ones.
//
// Subscriptions are not restartable; every resolution opens an independent
// one. A consumer that no longer needs values must call Cancel, after which
// no further values are delivered and the underlying resource is freed.
package pip

import (
	"context"
	"fmt"
	"sync"

	"github.com/aspen-pdp/aspen/value"
)

// Stream is an open attribute subscription. Values is closed when the
// source is exhausted or the subscription is cancelled.
type Stream interface {
	Values() <-chan value.Val
	Cancel()
}

// AttributeFinder opens a new subscription for one named attribute. ctx
// bounds the lifetime of the subscription; the finder must stop producing
// when ctx is done or Cancel is called.
type AttributeFinder func(ctx context.Context, args ...value.Val) (Stream, error)

// Registry maps fully qualified attribute names ("namespace.identifier") to
// finders. It is passed into the engine at construction.
type Registry struct {
	mu      sync.RWMutex
	finders map[string]AttributeFinder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{finders: make(map[string]AttributeFinder)}
}

// DefaultRegistry returns a registry with the built-in clock attribute
// ("time.now") registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("time.now", ClockFinder())
	return r
}

// Register adds an attribute finder under a fully qualified name.
func (r *Registry) Register(name string, finder AttributeFinder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.finders[name]; exists {
		return fmt.Errorf("pip: attribute %q already registered", name)
	}
	r.finders[name] = finder
	return nil
}

// Resolve opens a fresh subscription for the named attribute.
func (r *Registry) Resolve(ctx context.Context, name string, args ...value.Val) (Stream, error) {
	r.mu.RLock()
	finder, ok := r.finders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pip: unknown attribute %q", name)
	}
	return finder(ctx, args...)
}

// PushStream is a Stream fed by a producer goroutine. The producer calls
// Push for every value and Close when the source is exhausted; the consumer
// calls Cancel to release the subscription early.
type PushStream struct {
	ch        chan value.Val
	done      chan struct{}
	closeOnce sync.Once
	doneOnce  sync.Once
}

// NewPushStream returns a PushStream with the given channel buffer.
func NewPushStream(buffer int) *PushStream {
	return &PushStream{
		ch:   make(chan value.Val, buffer),
		done: make(chan struct{}),
	}
}

// Push delivers a value to the consumer. It returns false once the
// subscription has been cancelled.
func (s *PushStream) Push(v value.Val) bool {
	select {
	case <-s.done:
		return false
	case s.ch <- v:
		return true
	}
}

// Close marks the source exhausted. Producer side only.
func (s *PushStream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Cancel releases the subscription. No further values are delivered.
func (s *PushStream) Cancel() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the subscription is cancelled. Producers select on it.
func (s *PushStream) Done() <-chan struct{} { return s.done }

// Values returns the consumer channel.
func (s *PushStream) Values() <-chan value.Val { return s.ch }

// StaticFinder returns a finder producing a single constant value.
func StaticFinder(v value.Val) AttributeFinder {
	return func(ctx context.Context, _ ...value.Val) (Stream, error) {
		s := NewPushStream(1)
		s.Push(v)
		s.Close()
		return s, nil
	}
}

// SequenceFinder returns a finder that replays a fixed sequence of values
// and then ends. Each resolution replays the sequence from the start.
func SequenceFinder(vals ...value.Val) AttributeFinder {
	seq := make([]value.Val, len(vals))
	copy(seq, vals)
	return func(ctx context.Context, _ ...value.Val) (Stream, error) {
		s := NewPushStream(len(seq))
		go func() {
			defer s.Close()
			for _, v := range seq {
				select {
				case <-ctx.Done():
					return
				case <-s.Done():
					return
				default:
				}
				if !s.Push(v) {
					return
				}
			}
		}()
		return s, nil
	}
}
