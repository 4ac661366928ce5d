package policy

import (
	"context"
	"net/http"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow permits the request to proceed.
	ActionAllow Action = "allow"
	// ActionBlock terminates the request.
	ActionBlock Action = "block"
)

// Decision captures the result of a policy evaluation. Status is the HTTP status
// to answer with when the request is blocked.
type Decision struct {
	Action Action
	Reason string
	Status int
}

// Allowed reports whether the request may be forwarded.
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow
}

// Input provides request context for policy evaluation.
type Input struct {
	Method string
	Path   string
	Host   string
	Query  map[string][]string
}

// Evaluator evaluates a policy decision for a given input.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// AllowAll is an Evaluator that admits every request.
type AllowAll struct{}

// Evaluate implements Evaluator.
func (AllowAll) Evaluate(context.Context, Input) (Decision, error) {
	return Decision{Action: ActionAllow, Status: http.StatusOK}, nil
}
