// Package router classifies inbound messages onto team members.
//
// Three strategies exist: keyword substring matching, model-backed
// classification, and a hybrid that tries keywords first and consults the
// model only for ambiguous messages. Whatever happens upstream, Classify
// always lands on some member; the team's default member is the floor.
//
// The model only proposes a member; it never sees secrets or internal state,
// and a proposal naming an unknown member is discarded.
package router

import (
	"context"
	"errors"
)

// ErrRateLimit is returned by a Provider when the upstream LLM API reports a
// rate-limiting condition (e.g. HTTP 429 Too Many Requests).
var ErrRateLimit = errors.New("router: upstream rate limit exceeded")

// ErrMalformedOutput is returned by a Provider when the LLM returns a
// structurally valid HTTP response whose body cannot be interpreted as a
// classification (e.g. JSON parse failure, unexpected schema).
var ErrMalformedOutput = errors.New("router: malformed response from LLM")

// PickRequest is the input to a single model classification call.
type PickRequest struct {
	// Message is the raw text to classify.
	Message string

	// Team is the team name, included for traceability only.
	Team string

	// Members describes the candidate members. The model is instructed to
	// answer with exactly one of the listed member keys.
	Members []Candidate

	// Model overrides the provider's default model when non-empty.
	Model string
}

// Candidate is one team member as presented to the model.
type Candidate struct {
	Key         string
	Description string
}

// PickResponse is the structured output of a model classification call.
type PickResponse struct {
	// Member is the member key the model chose.
	Member string `json:"member"`

	// Confidence is a 0-1 score indicating the model's certainty.
	Confidence float64 `json:"confidence,omitempty"`

	// Reason is a one-sentence summary of why the model chose this member.
	Reason string `json:"reason,omitempty"`
}

// Provider classifies a message onto one of a team's members.
//
// Implementations must be safe for concurrent use. When an implementation is
// unavailable (network error, rate limit), it returns a descriptive error and
// the router degrades to keyword matching or the default member.
type Provider interface {
	Pick(ctx context.Context, req PickRequest) (*PickResponse, error)
}
