package pdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/eval"
	"github.com/aspen-pdp/aspen/functions"
	"github.com/aspen-pdp/aspen/pip"
	"github.com/aspen-pdp/aspen/prp"
	"github.com/aspen-pdp/aspen/value"
)

// DefaultEvaluationTimeout bounds how long a single evaluation may wait on
// attribute sources before it resolves to INDETERMINATE.
const DefaultEvaluationTimeout = 10 * time.Second

// DecisionSink observes every decision the engine makes (audit trail,
// metrics). Sinks must not block.
type DecisionSink interface {
	OnDecision(ctx context.Context, sub AuthorizationSubscription, dec AuthorizationDecision, elapsed time.Duration)
}

// MultiSink fans a decision out to several sinks.
func MultiSink(sinks ...DecisionSink) DecisionSink { return multiSink(sinks) }

type multiSink []DecisionSink

func (m multiSink) OnDecision(ctx context.Context, sub AuthorizationSubscription, dec AuthorizationDecision, elapsed time.Duration) {
	for _, s := range m {
		s.OnDecision(ctx, sub, dec, elapsed)
	}
}

// PDP is the policy decision engine. It is safe for concurrent use; all
// configuration happens at construction.
type PDP struct {
	retrieval          prp.PolicyRetrievalPoint
	functions          *functions.Registry
	attributes         *pip.Registry
	algorithm          ast.CombiningAlgorithm
	variables          map[string]value.Val
	evalTimeout        time.Duration
	lenientConstraints bool
	log                *zap.Logger
	tracer             trace.Tracer
	sink               DecisionSink
}

// Option configures a PDP.
type Option func(*PDP) error

// WithCombiningAlgorithm sets the top-level combining algorithm (default
// deny-overrides). This is fixed for the engine; policy sets choose their
// own algorithms per document.
func WithCombiningAlgorithm(alg ast.CombiningAlgorithm) Option {
	return func(p *PDP) error {
		if !ast.ValidAlgorithm(string(alg)) {
			return fmt.Errorf("pdp: unknown combining algorithm %q", alg)
		}
		p.algorithm = alg
		return nil
	}
}

// WithFunctions replaces the function library registry.
func WithFunctions(r *functions.Registry) Option {
	return func(p *PDP) error { p.functions = r; return nil }
}

// WithAttributes replaces the attribute stream provider registry.
func WithAttributes(r *pip.Registry) Option {
	return func(p *PDP) error { p.attributes = r; return nil }
}

// WithVariables injects named constants into every evaluation's initial
// bindings, visible to all policies.
func WithVariables(vars map[string]any) Option {
	return func(p *PDP) error {
		for name, raw := range vars {
			v, err := value.FromAny(raw)
			if err != nil {
				return fmt.Errorf("pdp: variable %q: %w", name, err)
			}
			p.variables[name] = v
		}
		return nil
	}
}

// WithEvaluationTimeout sets the per-evaluation deadline.
func WithEvaluationTimeout(d time.Duration) Option {
	return func(p *PDP) error {
		if d <= 0 {
			return fmt.Errorf("pdp: evaluation timeout must be positive")
		}
		p.evalTimeout = d
		return nil
	}
}

// WithLenientConstraints drops obligations and advice that fail to evaluate
// instead of turning the document INDETERMINATE.
func WithLenientConstraints() Option {
	return func(p *PDP) error { p.lenientConstraints = true; return nil }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *PDP) error { p.log = log; return nil }
}

// WithTracer sets the OpenTelemetry tracer used to span evaluations.
func WithTracer(t trace.Tracer) Option {
	return func(p *PDP) error { p.tracer = t; return nil }
}

// WithDecisionSink registers a decision observer.
func WithDecisionSink(s DecisionSink) Option {
	return func(p *PDP) error { p.sink = s; return nil }
}

// New builds a PDP over a policy retrieval point. Defaults: deny-overrides,
// the standard function libraries, the built-in clock attribute, a no-op
// logger, and a 10s evaluation timeout.
func New(retrieval prp.PolicyRetrievalPoint, opts ...Option) (*PDP, error) {
	if retrieval == nil {
		return nil, fmt.Errorf("pdp: a policy retrieval point is required")
	}
	p := &PDP{
		retrieval:   retrieval,
		functions:   functions.DefaultRegistry(),
		attributes:  pip.DefaultRegistry(),
		algorithm:   ast.DenyOverrides,
		variables:   make(map[string]value.Val),
		evalTimeout: DefaultEvaluationTimeout,
		log:         zap.NewNop(),
		tracer:      noop.NewTracerProvider().Tracer("aspen"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Decide evaluates the subscription once. Every attribute subscription
// opened during the evaluation is released before Decide returns. Decide
// never returns an error: evaluation failures yield INDETERMINATE.
func (p *PDP) Decide(ctx context.Context, sub AuthorizationSubscription) AuthorizationDecision {
	ctx, span := p.tracer.Start(ctx, "pdp.Decide")
	defer span.End()

	broker := newAttributeBroker(ctx, p.attributes, false)
	defer broker.releaseAll()

	start := time.Now()
	dec := p.evaluateOnce(ctx, sub, broker)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.String("pdp.decision", dec.Decision.String()))
	p.log.Info("authorization decision",
		zap.String("decision", dec.Decision.String()),
		zap.Duration("took", elapsed),
	)
	if p.sink != nil {
		p.sink.OnDecision(ctx, sub, dec, elapsed)
	}
	return dec
}

// DecideStream evaluates the subscription continuously. The returned
// channel receives the initial decision and, afterwards, a new decision
// whenever a change in an open attribute stream or a policy reload makes
// the result differ from the previous one. Cancelling ctx releases every
// attribute subscription and closes the channel.
func (p *PDP) DecideStream(ctx context.Context, sub AuthorizationSubscription) <-chan AuthorizationDecision {
	out := make(chan AuthorizationDecision, 1)
	broker := newAttributeBroker(ctx, p.attributes, true)
	reloads := p.retrieval.Subscribe()

	go func() {
		defer close(out)
		defer broker.releaseAll()
		defer p.retrieval.Unsubscribe(reloads)

		ctx, span := p.tracer.Start(ctx, "pdp.DecideStream")
		defer span.End()

		var last *AuthorizationDecision
		emit := func() bool {
			start := time.Now()
			dec := p.evaluateOnce(ctx, sub, broker)
			elapsed := time.Since(start)
			if last != nil && dec.Equals(*last) {
				return true
			}
			last = &dec
			p.log.Info("authorization decision updated",
				zap.String("decision", dec.Decision.String()),
				zap.Duration("took", elapsed),
			)
			if p.sink != nil {
				p.sink.OnDecision(ctx, sub, dec, elapsed)
			}
			select {
			case <-ctx.Done():
				return false
			case out <- dec:
				return true
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-broker.changes():
				if !emit() {
					return
				}
			case <-reloads:
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}

// evaluateOnce runs one full evaluation pass against the current document
// snapshot: retrieval, per-document evaluation (concurrent unless the
// top-level algorithm is first-applicable), combining, aggregation.
func (p *PDP) evaluateOnce(ctx context.Context, sub AuthorizationSubscription, broker *attributeBroker) AuthorizationDecision {
	ctx, cancel := context.WithTimeout(ctx, p.evalTimeout)
	defer cancel()

	env := &eval.Environment{
		Subject:     sub.Subject,
		Action:      sub.Action,
		Resource:    sub.Resource,
		Environment: sub.Environment,
		Variables:   p.variables,
		Functions:   p.functions,
	}

	docs := p.retrieval.Documents()
	matches := prp.Retrieve(ctx, docs, env)

	results := make([]documentDecision, len(matches))
	evaluate := func(i int, m prp.Match) {
		doc := m.Document
		tr := &DocumentTrace{Document: doc.DocumentName()}
		if m.TargetError != nil {
			tr.targetResult(false, m.TargetError)
			results[i] = documentDecision{name: doc.DocumentName(), decision: Indeterminate}
		} else {
			docEnv := *env
			docEnv.Imports = p.resolveImports(doc)
			docEnv.Attributes = &tracingResolver{next: broker, trace: tr}
			results[i] = evaluateDocument(ctx, doc, &docEnv, tr, p.lenientConstraints)
		}
		tr.Decision = results[i].decision.String()
		p.log.Debug("document evaluated",
			zap.String("document", doc.DocumentName()),
			zap.String("decision", tr.Decision),
			zap.Any("trace", tr),
		)
	}

	if p.algorithm == ast.FirstApplicable {
		// Strictly sequential: later documents must not be evaluated (and
		// must not open attribute subscriptions) once a decision is found.
		n := 0
		for i, m := range matches {
			evaluate(i, m)
			n = i + 1
			if results[i].decision != NotApplicable {
				break
			}
		}
		results = results[:n]
	} else {
		var wg sync.WaitGroup
		for i, m := range matches {
			wg.Add(1)
			go func(i int, m prp.Match) {
				defer wg.Done()
				evaluate(i, m)
			}(i, m)
		}
		wg.Wait()
	}

	return combine(p.algorithm, results)
}

// resolveImports expands a document's import declarations into an alias map
// for bare function names.
func (p *PDP) resolveImports(doc ast.Document) map[string]string {
	imports := doc.DocumentImports()
	if len(imports) == 0 {
		return nil
	}
	aliases := make(map[string]string)
	for _, imp := range imports {
		if imp.Name == "*" {
			for _, name := range p.functions.LibraryFunctions(imp.Library) {
				aliases[name] = imp.Library + "." + name
			}
			continue
		}
		aliases[imp.Name] = imp.Library + "." + imp.Name
	}
	return aliases
}
