package pdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aspen-pdp/aspen/eval"
	"github.com/aspen-pdp/aspen/pip"
	"github.com/aspen-pdp/aspen/value"
)

// attributeBroker owns every attribute stream subscription opened during
// one decision (one-shot) or one decision stream (continuous). Subscriptions
// are keyed by attribute name, argument values, and the head modifier, so
// re-evaluations reuse the open subscription instead of opening a new one.
//
// In continuous mode a forwarding goroutine per subscription caches the
// latest emitted value and marks the broker dirty, triggering the decision
// stream to re-evaluate. Head-modified references take exactly one value
// and release their subscription immediately. releaseAll cancels everything
// still open.
type attributeBroker struct {
	registry   *pip.Registry
	continuous bool
	streamCtx  context.Context

	mu      sync.Mutex
	entries map[string]*brokerEntry
	dirty   chan struct{}
}

var _ eval.AttributeResolver = (*attributeBroker)(nil)

type brokerEntry struct {
	stream pip.Stream
	latest value.Val
	failed error
}

func newAttributeBroker(streamCtx context.Context, registry *pip.Registry, continuous bool) *attributeBroker {
	return &attributeBroker{
		registry:   registry,
		continuous: continuous,
		streamCtx:  streamCtx,
		entries:    make(map[string]*brokerEntry),
		dirty:      make(chan struct{}, 1),
	}
}

// changes is signalled whenever a cached attribute value changed.
func (b *attributeBroker) changes() <-chan struct{} { return b.dirty }

func (b *attributeBroker) markDirty() {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

func subscriptionKey(name string, args []value.Val, head bool) string {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("?")
	}
	return fmt.Sprintf("%s(%s)head=%v", name, argsJSON, head)
}

// Resolve implements eval.AttributeResolver. The evaluation ctx (which
// carries the per-evaluation deadline) bounds the wait for the first value;
// the subscription itself lives until released.
func (b *attributeBroker) Resolve(ctx context.Context, name string, args []value.Val, head bool) (value.Val, error) {
	key := subscriptionKey(name, args, head)

	b.mu.Lock()
	if entry, ok := b.entries[key]; ok {
		latest, failed := entry.latest, entry.failed
		b.mu.Unlock()
		if failed != nil {
			return value.Null(), failed
		}
		return latest, nil
	}
	b.mu.Unlock()

	stream, err := b.registry.Resolve(b.streamCtx, name, args...)
	if err != nil {
		return value.Null(), err
	}

	var first value.Val
	select {
	case <-ctx.Done():
		stream.Cancel()
		return value.Null(), fmt.Errorf("attribute <%s>: no value before deadline: %w", name, ctx.Err())
	case v, ok := <-stream.Values():
		if !ok {
			stream.Cancel()
			return value.Null(), fmt.Errorf("attribute <%s>: source ended without a value", name)
		}
		first = v
	}

	entry := &brokerEntry{stream: stream, latest: first}

	// Concurrently evaluated documents referencing the same attribute can
	// both miss the cache above. Re-check under the lock: exactly one
	// subscription may be kept per key, the loser is cancelled here.
	b.mu.Lock()
	if existing, ok := b.entries[key]; ok {
		latest, failed := existing.latest, existing.failed
		b.mu.Unlock()
		stream.Cancel()
		if failed != nil {
			return value.Null(), failed
		}
		return latest, nil
	}
	b.entries[key] = entry
	b.mu.Unlock()

	switch {
	case head:
		// First value only: release the subscription right away. The
		// cached value keeps serving re-evaluations.
		stream.Cancel()
	case b.continuous:
		go b.forward(key, entry)
	default:
		// One-shot evaluation: keep the subscription open until the
		// evaluation ends, releaseAll cleans it up.
	}
	return first, nil
}

// forward pumps later values of an open subscription into the cache.
func (b *attributeBroker) forward(key string, entry *brokerEntry) {
	for {
		select {
		case <-b.streamCtx.Done():
			entry.stream.Cancel()
			return
		case v, ok := <-entry.stream.Values():
			if !ok {
				return
			}
			b.mu.Lock()
			changed := !entry.latest.Equals(v)
			entry.latest = v
			b.mu.Unlock()
			if changed {
				b.markDirty()
			}
		}
	}
}

// releaseAll cancels every subscription this broker still holds.
func (b *attributeBroker) releaseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range b.entries {
		entry.stream.Cancel()
	}
}
