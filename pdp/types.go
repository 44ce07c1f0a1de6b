// Package pdp implements the policy decision engine: it retrieves the
// applicable policy documents for an authorization subscription, evaluates
// them (policies and policy sets), folds the individual decisions with a
// combining algorithm, and aggregates the obligations, advice, and resource
// transformation the caller must enforce.
//
// The engine never panics or returns an error across its evaluation
// boundary: every call yields an AuthorizationDecision, with runtime
// failures surfacing as INDETERMINATE.
package pdp

import (
	"encoding/json"
	"fmt"

	"github.com/aspen-pdp/aspen/value"
)

// Decision is the outcome of evaluating one document or a whole document set.
type Decision int

const (
	Permit Decision = iota
	Deny
	NotApplicable
	Indeterminate
)

var decisionNames = map[Decision]string{
	Permit:        "PERMIT",
	Deny:          "DENY",
	NotApplicable: "NOT_APPLICABLE",
	Indeterminate: "INDETERMINATE",
}

func (d Decision) String() string { return decisionNames[d] }

// MarshalJSON encodes the decision as its wire name, e.g. "PERMIT".
func (d Decision) MarshalJSON() ([]byte, error) {
	name, ok := decisionNames[d]
	if !ok {
		return nil, fmt.Errorf("pdp: invalid decision %d", int(d))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire name into a Decision.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for dec, n := range decisionNames {
		if n == name {
			*d = dec
			return nil
		}
	}
	return fmt.Errorf("pdp: unknown decision %q", name)
}

// AuthorizationSubscription is the four-part request a caller poses to the
// engine. Each slot is an arbitrary JSON value; absent slots are null.
// Subscriptions are immutable once built.
type AuthorizationSubscription struct {
	Subject     value.Val `json:"subject"`
	Action      value.Val `json:"action"`
	Resource    value.Val `json:"resource"`
	Environment value.Val `json:"environment"`
}

// NewSubscription builds a subscription from arbitrary Go values via their
// JSON encoding.
func NewSubscription(subject, action, resource, environment any) (AuthorizationSubscription, error) {
	var sub AuthorizationSubscription
	var err error
	if sub.Subject, err = value.FromAny(subject); err != nil {
		return sub, fmt.Errorf("pdp: invalid subject: %w", err)
	}
	if sub.Action, err = value.FromAny(action); err != nil {
		return sub, fmt.Errorf("pdp: invalid action: %w", err)
	}
	if sub.Resource, err = value.FromAny(resource); err != nil {
		return sub, fmt.Errorf("pdp: invalid resource: %w", err)
	}
	if sub.Environment, err = value.FromAny(environment); err != nil {
		return sub, fmt.Errorf("pdp: invalid environment: %w", err)
	}
	return sub, nil
}

// String renders the subscription as compact JSON for logs and audit.
func (s AuthorizationSubscription) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// AuthorizationDecision is the engine's answer: the decision itself, an
// optional replacement resource produced by a transformation, and the
// obligations and advice the caller must handle. Obligations are mandatory
// (unfulfillable means the caller must deny access); advice is optional.
type AuthorizationDecision struct {
	Decision    Decision    `json:"decision"`
	Resource    *value.Val  `json:"resource,omitempty"`
	Obligations []value.Val `json:"obligations,omitempty"`
	Advice      []value.Val `json:"advice,omitempty"`
}

// Equals reports whether two decisions are indistinguishable to the caller.
// Decision streams use it to suppress duplicate emissions.
func (d AuthorizationDecision) Equals(other AuthorizationDecision) bool {
	if d.Decision != other.Decision {
		return false
	}
	if (d.Resource == nil) != (other.Resource == nil) {
		return false
	}
	if d.Resource != nil && !d.Resource.Equals(*other.Resource) {
		return false
	}
	if len(d.Obligations) != len(other.Obligations) || len(d.Advice) != len(other.Advice) {
		return false
	}
	for i := range d.Obligations {
		if !d.Obligations[i].Equals(other.Obligations[i]) {
			return false
		}
	}
	for i := range d.Advice {
		if !d.Advice[i].Equals(other.Advice[i]) {
			return false
		}
	}
	return true
}

// documentDecision is the evaluation result of one top-level document or
// one policy inside a set, before combining.
type documentDecision struct {
	name        string
	decision    Decision
	obligations []value.Val
	advice      []value.Val
	resource    *value.Val // transformation result, nil if none
}
