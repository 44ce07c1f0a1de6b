package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aspen-pdp/aspen/pdp"
	"github.com/aspen-pdp/aspen/value"
)

// Recorder adapts a Store to the engine's decision sink. Events are written
// synchronously; a write failure is logged and dropped, never surfaced to
// the caller asking for a decision.
type Recorder struct {
	store Store
	log   *zap.Logger
}

// NewRecorder builds a decision sink writing to store.
func NewRecorder(store Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, log: log}
}

// OnDecision implements pdp.DecisionSink.
func (r *Recorder) OnDecision(ctx context.Context, sub pdp.AuthorizationSubscription, dec pdp.AuthorizationDecision, elapsed time.Duration) {
	event := &DecisionEvent{
		ID:          uuid.NewString(),
		Subject:     sub.Subject.String(),
		Action:      sub.Action.String(),
		Resource:    sub.Resource.String(),
		Environment: sub.Environment.String(),
		Decision:    dec.Decision.String(),
		Obligations: marshalConstraints(dec.Obligations),
		Advice:      marshalConstraints(dec.Advice),
		Transformed: dec.Resource != nil,
		DurationMS:  elapsed.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.Save(ctx, event); err != nil {
		r.log.Error("failed to persist decision event", zap.Error(err))
	}
}

func marshalConstraints(vals []value.Val) string {
	if len(vals) == 0 {
		return ""
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return ""
	}
	return string(data)
}

// MemoryStore keeps events in memory. Intended for tests and the CLI.
type MemoryStore struct {
	mu     sync.Mutex
	events []DecisionEvent
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Save(_ context.Context, event *DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]DecisionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DecisionEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !matches(e, filter) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.events {
		if matches(e, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []DecisionEvent
	var removed int64
	for _, e := range s.events {
		if e.CreatedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

func matches(e DecisionEvent, f Filter) bool {
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}
