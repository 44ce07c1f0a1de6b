// Package prp implements policy retrieval: it holds the immutable set of
// loaded policy documents, answers which documents apply to a subscription
// (by evaluating their target expressions), and — for the monitored
// directory source — atomically swaps in a new document set when files
// change, notifying open decision streams.
package prp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/eval"
	"github.com/aspen-pdp/aspen/parser"
)

// PolicyRetrievalPoint supplies the current document set and change
// notifications. Documents must return an immutable snapshot: a reload
// never mutates a previously returned slice, so in-flight evaluations
// finish against the set they started with.
type PolicyRetrievalPoint interface {
	Documents() []ast.Document
	// Subscribe returns a channel that receives a signal after every
	// document set swap. Callers must Unsubscribe when done.
	Subscribe() <-chan struct{}
	Unsubscribe(<-chan struct{})
}

// Match is one retrieved document. TargetError is set when the document's
// target expression failed to evaluate; such documents stay in the result
// and contribute INDETERMINATE.
type Match struct {
	Document    ast.Document
	TargetError error
}

// Retrieve returns the documents applicable to the subscription held in
// env: those whose target expression evaluates to true (a nil target is
// always true), plus those whose target evaluation errored.
//
// Target expressions are restricted to eager operators and never touch
// attribute streams, so retrieval is side-effect free.
func Retrieve(ctx context.Context, docs []ast.Document, env *eval.Environment) []Match {
	var matches []Match
	for _, doc := range docs {
		target := doc.TargetExpression()
		if target == nil {
			matches = append(matches, Match{Document: doc})
			continue
		}
		applicable, err := eval.EvaluateBoolean(ctx, target, env)
		if err != nil {
			matches = append(matches, Match{Document: doc, TargetError: err})
			continue
		}
		if applicable {
			matches = append(matches, Match{Document: doc})
		}
	}
	return matches
}

// parseAll parses a set of named sources, enforcing document name
// uniqueness. The onError callback is invoked for every rejected source;
// rejected sources are excluded, the rest is returned.
func parseAll(sources map[string]string, onError func(source string, err error)) []ast.Document {
	// Deterministic order keeps evaluation-order-dependent aggregation
	// stable across reloads.
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var docs []ast.Document
	seen := map[string]string{}
	for _, src := range names {
		doc, err := parser.ParseDocument(src, sources[src])
		if err != nil {
			onError(src, err)
			continue
		}
		if prev, dup := seen[doc.DocumentName()]; dup {
			onError(src, fmt.Errorf("duplicate document name %q (already loaded from %s)", doc.DocumentName(), prev))
			continue
		}
		seen[doc.DocumentName()] = src
		docs = append(docs, doc)
	}
	return docs
}

// subscribers manages reload notification channels shared by the sources.
type subscribers struct {
	mu   sync.Mutex
	subs map[<-chan struct{}]chan struct{}
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[<-chan struct{}]chan struct{})}
}

func (s *subscribers) subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = ch
	s.mu.Unlock()
	return ch
}

func (s *subscribers) unsubscribe(ch <-chan struct{}) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// notify signals every subscriber without blocking; a pending signal is
// enough for a stream to re-evaluate once.
func (s *subscribers) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
