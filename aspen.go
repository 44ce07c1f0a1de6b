// Package aspen is the root facade of the Aspen policy decision engine.
// It re-exports the types a policy enforcement point needs and provides
// convenience constructors over the engine packages.
package aspen

import (
	"go.uber.org/zap"

	"github.com/aspen-pdp/aspen/pdp"
	"github.com/aspen-pdp/aspen/prp"
)

// Convenience aliases so callers embedding the engine only import one package.
type (
	AuthorizationSubscription = pdp.AuthorizationSubscription
	AuthorizationDecision     = pdp.AuthorizationDecision
	Decision                  = pdp.Decision
	Option                    = pdp.Option
	PDP                       = pdp.PDP
)

const (
	Permit        = pdp.Permit
	Deny          = pdp.Deny
	NotApplicable = pdp.NotApplicable
	Indeterminate = pdp.Indeterminate
)

// NewSubscription builds an authorization subscription from arbitrary Go
// values (structs, maps, primitives) by converting them to engine values.
func NewSubscription(subject, action, resource, environment any) (AuthorizationSubscription, error) {
	return pdp.NewSubscription(subject, action, resource, environment)
}

// NewFromDirectory builds a PDP over a watched directory of policy
// documents. Documents are reloaded atomically whenever a file changes.
// Close the returned source when the engine is discarded.
func NewFromDirectory(path string, log *zap.Logger, opts ...Option) (*PDP, *prp.DirectorySource, error) {
	source, err := prp.NewDirectorySource(path, log)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]Option{pdp.WithLogger(log)}, opts...)
	engine, err := pdp.New(source, opts...)
	if err != nil {
		source.Close()
		return nil, nil, err
	}
	return engine, source, nil
}

// NewFromDocuments builds a PDP over a fixed set of policy document
// sources, keyed by document identifier. Parsing any source fails the
// whole construction.
func NewFromDocuments(sources map[string]string, opts ...Option) (*PDP, error) {
	source, err := prp.NewInMemorySource(sources)
	if err != nil {
		return nil, err
	}
	return pdp.New(source, opts...)
}
