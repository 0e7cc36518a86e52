package router_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/clawpen/clawpen/internal/clawpen/router"
	"github.com/clawpen/clawpen/internal/clawpen/team"
)

// stubProvider is a scriptable Provider double.
type stubProvider struct {
	resp  *router.PickResponse
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (p *stubProvider) Pick(ctx context.Context, req router.PickRequest) (*router.PickResponse, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

const keywordTeamYAML = `
mode: keyword
default_member: helper
members:
  - agent: helper
    keywords: [help, question]
  - agent: billing
    keywords: [invoice, receipt, payment]
  - agent: shipping
    keywords: [package, delivery]
`

const hybridTeamYAML = `
mode: hybrid
default_member: helper
llm:
  model: gpt-4o-mini
  timeout_ms: 200
members:
  - agent: helper
    keywords: [help]
    description: General questions.
  - agent: billing
    keywords: [invoice]
    description: Invoices and payments.
  - agent: shipping
    keywords: [delivery]
    description: Parcels and tracking.
`

const llmTeamYAML = `
mode: llm
default_member: frontline
llm:
  model: gpt-4o-mini
  timeout_ms: 100
members:
  - key: frontline
    agent: helper
    description: General questions.
  - key: money
    agent: billing
    description: Invoices and payments.
`

func newTestTeams(t *testing.T) *team.Registry {
	t.Helper()
	fsys := fstest.MapFS{
		"support.yaml": {Data: []byte(keywordTeamYAML)},
		"hybrid.yaml":  {Data: []byte(hybridTeamYAML)},
		"llm.yaml":     {Data: []byte(llmTeamYAML)},
	}
	reg, err := team.NewRegistry(fsys)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestClassify_KeywordHit(t *testing.T) {
	r := router.New(newTestTeams(t), nil, nil, nil)

	d, err := r.Classify(context.Background(), "support", "Where is my RECEIPT for last month?")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "billing" {
		t.Errorf("Member: got %q, want %q", d.Member, "billing")
	}
	if d.Agent != "billing" {
		t.Errorf("Agent: got %q, want %q", d.Agent, "billing")
	}
	if d.Method != router.MethodKeyword {
		t.Errorf("Method: got %q, want %q", d.Method, router.MethodKeyword)
	}
	if d.Hits != 1 {
		t.Errorf("Hits: got %d, want 1", d.Hits)
	}
	if d.TraceID == "" {
		t.Error("TraceID should be set")
	}
}

func TestClassify_NoHitFallsToDefault(t *testing.T) {
	r := router.New(newTestTeams(t), nil, nil, nil)

	d, err := r.Classify(context.Background(), "support", "hello there")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "helper" {
		t.Errorf("Member: got %q, want %q", d.Member, "helper")
	}
	if d.Method != router.MethodDefault {
		t.Errorf("Method: got %q, want %q", d.Method, router.MethodDefault)
	}
}

func TestClassify_TieResolvesToEarliestMember(t *testing.T) {
	r := router.New(newTestTeams(t), nil, nil, nil)

	// One hit each for billing and shipping.
	d, err := r.Classify(context.Background(), "support", "my invoice for the package")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "billing" {
		t.Errorf("Member: got %q, want %q (earliest declared)", d.Member, "billing")
	}
	if d.Method != router.MethodKeyword {
		t.Errorf("Method: got %q, want %q", d.Method, router.MethodKeyword)
	}
}

func TestClassify_UnknownTeam(t *testing.T) {
	r := router.New(newTestTeams(t), nil, nil, nil)

	_, err := r.Classify(context.Background(), "nosuchteam", "hello")
	if !errors.Is(err, team.ErrNotFound) {
		t.Fatalf("expected team.ErrNotFound, got %v", err)
	}
}

func TestClassify_HybridDecisiveSkipsModel(t *testing.T) {
	provider := &stubProvider{resp: &router.PickResponse{Member: "billing"}}
	r := router.New(newTestTeams(t), provider, nil, nil)

	d, err := r.Classify(context.Background(), "hybrid", "a question about an invoice")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "billing" || d.Method != router.MethodKeyword {
		t.Errorf("got member=%q method=%q, want billing/keyword", d.Member, d.Method)
	}
	if provider.calls.Load() != 0 {
		t.Errorf("model consulted for a decisive keyword match: %d calls", provider.calls.Load())
	}
}

func TestClassify_HybridAmbiguousConsultsModel(t *testing.T) {
	provider := &stubProvider{resp: &router.PickResponse{Member: "billing", Confidence: 0.9}}
	r := router.New(newTestTeams(t), provider, nil, nil)

	// No keyword matches at all.
	d, err := r.Classify(context.Background(), "hybrid", "the thing is broken")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "billing" || d.Method != router.MethodLLM {
		t.Errorf("got member=%q method=%q, want billing/llm", d.Member, d.Method)
	}
	if d.Confidence != 0.9 {
		t.Errorf("Confidence: got %v", d.Confidence)
	}
	if provider.calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", provider.calls.Load())
	}
}

func TestClassify_HybridModelErrorFallsBack(t *testing.T) {
	provider := &stubProvider{err: router.ErrRateLimit}
	r := router.New(newTestTeams(t), provider, nil, nil)

	// No hits anywhere: the default member is the floor.
	d, err := r.Classify(context.Background(), "hybrid", "the thing is broken")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "helper" || d.Method != router.MethodDefault {
		t.Errorf("got member=%q method=%q, want helper/default", d.Member, d.Method)
	}
	if d.Reason == "" {
		t.Error("fallback decision should carry the failure reason")
	}
}

func TestClassify_HybridTieThenModelErrorFallsToDefault(t *testing.T) {
	provider := &stubProvider{err: router.ErrRateLimit}
	r := router.New(newTestTeams(t), provider, nil, nil)

	// One hit each for billing and shipping: an indecisive tie, not a route.
	// With the model down too, the decision must land on the default member
	// rather than the tie winner.
	d, err := r.Classify(context.Background(), "hybrid", "invoice for the delivery")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "helper" || d.Method != router.MethodDefault {
		t.Errorf("got member=%q method=%q, want helper/default", d.Member, d.Method)
	}
	if provider.calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", provider.calls.Load())
	}
}

func TestClassify_ModelTimeoutFallsBack(t *testing.T) {
	// Slower than the team's 100ms budget.
	provider := &stubProvider{
		resp:  &router.PickResponse{Member: "money"},
		delay: 2 * time.Second,
	}
	r := router.New(newTestTeams(t), provider, nil, nil)

	started := time.Now()
	d, err := r.Classify(context.Background(), "llm", "anything")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("classification waited %s for a slow model", elapsed)
	}
	if d.Member != "frontline" || d.Method != router.MethodDefault {
		t.Errorf("got member=%q method=%q, want frontline/default", d.Member, d.Method)
	}
}

func TestClassify_ModelUnknownMemberDiscarded(t *testing.T) {
	provider := &stubProvider{resp: &router.PickResponse{Member: "nonexistent"}}
	r := router.New(newTestTeams(t), provider, nil, nil)

	d, err := r.Classify(context.Background(), "llm", "anything")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "frontline" || d.Method != router.MethodDefault {
		t.Errorf("got member=%q method=%q, want frontline/default", d.Member, d.Method)
	}
}

func TestClassify_MemberKeyResolvesAgent(t *testing.T) {
	provider := &stubProvider{resp: &router.PickResponse{Member: "money"}}
	r := router.New(newTestTeams(t), provider, nil, nil)

	d, err := r.Classify(context.Background(), "llm", "anything")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "money" {
		t.Errorf("Member: got %q, want %q", d.Member, "money")
	}
	if d.Agent != "billing" {
		t.Errorf("Agent: got %q, want %q", d.Agent, "billing")
	}
}

func TestClassify_NoProviderDegradesToDefault(t *testing.T) {
	r := router.New(newTestTeams(t), nil, nil, nil)

	d, err := r.Classify(context.Background(), "llm", "anything")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Member != "frontline" || d.Method != router.MethodDefault {
		t.Errorf("got member=%q method=%q, want frontline/default", d.Member, d.Method)
	}
}
