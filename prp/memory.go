package prp

import (
	"fmt"

	"github.com/aspen-pdp/aspen/ast"
)

// InMemorySource holds a fixed document set parsed once at construction.
// Suited to embedded policy sets; any malformed document or duplicate name
// fails construction, leaving no partial engine state.
type InMemorySource struct {
	docs []ast.Document
	subs *subscribers
}

// NewInMemorySource parses the given sources (name -> document text).
func NewInMemorySource(sources map[string]string) (*InMemorySource, error) {
	var firstErr error
	docs := parseAll(sources, func(source string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("load %s: %w", source, err)
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return &InMemorySource{docs: docs, subs: newSubscribers()}, nil
}

// Documents returns the immutable document set.
func (s *InMemorySource) Documents() []ast.Document { return s.docs }

// Subscribe returns a channel that never fires; an in-memory set does not
// change.
func (s *InMemorySource) Subscribe() <-chan struct{} { return s.subs.subscribe() }

// Unsubscribe releases a subscription channel.
func (s *InMemorySource) Unsubscribe(ch <-chan struct{}) { s.subs.unsubscribe(ch) }
