package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawpen/clawpen/common/trace"
	"github.com/clawpen/clawpen/internal/clawpen/store"
	"github.com/clawpen/clawpen/internal/clawpen/team"
)

// Methods a Decision can be reached by.
const (
	MethodKeyword = "keyword"
	MethodLLM     = "llm"
	MethodDefault = "default"
)

// defaultLLMWait bounds how long a classification waits for the model before
// falling back. Teams can override it via llm.timeout_ms.
const defaultLLMWait = 2 * time.Second

// Decision is the outcome and trace of classifying one message. Routing is
// read-only: a decision never mutates team or agent state.
type Decision struct {
	Team       string        `json:"team"`
	Member     string        `json:"member"`
	Agent      string        `json:"agent"`
	Method     string        `json:"method"`
	Hits       int           `json:"hits,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	TraceID    string        `json:"trace_id,omitempty"`
}

// EventLog records routing decisions. Satisfied by *store.Store.
type EventLog interface {
	AppendEvent(ctx context.Context, kind, agentID, detail, traceID string) error
}

// Router classifies messages onto team members.
type Router struct {
	teams    *team.Registry
	provider Provider
	events   EventLog
	logger   *slog.Logger
}

// New creates a Router. provider may be nil when no model is configured;
// llm and hybrid teams then degrade to keywords and the default member.
// events may be nil to skip decision logging.
func New(teams *team.Registry, provider Provider, events EventLog, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{teams: teams, provider: provider, events: events, logger: logger}
}

// Classify routes a message to a member of the named team. It always returns
// a decision for a known team; strategy failures degrade toward the team's
// default member rather than erroring. Concurrent classifications never block
// each other.
func (r *Router) Classify(ctx context.Context, teamName, message string) (*Decision, error) {
	t, err := r.teams.Get(teamName)
	if err != nil {
		return nil, err
	}

	traceID := trace.FromContext(ctx)
	if traceID == "" {
		traceID = trace.GenerateID()
		ctx = trace.WithTraceID(ctx, traceID)
	}
	started := time.Now()

	var d *Decision
	switch t.Mode {
	case team.ModeKeyword:
		d = r.classifyKeyword(t, message)
	case team.ModeLLM:
		d = r.classifyLLM(ctx, t, message)
	case team.ModeHybrid:
		d = r.classifyHybrid(ctx, t, message)
	default:
		return nil, fmt.Errorf("team %q: unknown mode %q", t.Name, t.Mode)
	}
	d.Team = t.Name
	d.TraceID = traceID
	d.Elapsed = time.Since(started)
	if m := t.MemberFor(d.Member); m != nil {
		d.Agent = m.Agent
	}

	r.logger.Info("message classified",
		"team", d.Team,
		"member", d.Member,
		"agent", d.Agent,
		"method", d.Method,
		"hits", d.Hits,
		"elapsed", d.Elapsed,
		"trace_id", traceID,
	)
	if r.events != nil {
		detail := fmt.Sprintf("team=%s member=%s method=%s", d.Team, d.Member, d.Method)
		if err := r.events.AppendEvent(ctx, store.EventRouting, "", detail, traceID); err != nil {
			r.logger.Warn("failed to record routing decision", "error", err, "trace_id", traceID)
		}
	}
	return d, nil
}

func (r *Router) classifyKeyword(t *team.Team, message string) *Decision {
	scores := scoreKeywords(t, message)
	key, hits, _ := bestKeyword(scores)
	if hits == 0 {
		return &Decision{Member: t.DefaultMember, Method: MethodDefault}
	}
	// Ties resolve to the earliest declared member.
	return &Decision{Member: key, Method: MethodKeyword, Hits: hits}
}

func (r *Router) classifyLLM(ctx context.Context, t *team.Team, message string) *Decision {
	picked, err := r.askModel(ctx, t, message)
	if err != nil {
		r.logger.Warn("model classification failed, using default member",
			"team", t.Name, "error", err, "trace_id", trace.FromContext(ctx))
		return &Decision{Member: t.DefaultMember, Method: MethodDefault, Reason: err.Error()}
	}
	return &Decision{
		Member:     picked.Member,
		Method:     MethodLLM,
		Confidence: picked.Confidence,
		Reason:     picked.Reason,
	}
}

func (r *Router) classifyHybrid(ctx context.Context, t *team.Team, message string) *Decision {
	scores := scoreKeywords(t, message)
	key, hits, decisive := bestKeyword(scores)
	if decisive {
		return &Decision{Member: key, Method: MethodKeyword, Hits: hits}
	}

	// An indecisive keyword pass never routes on its own; once the model
	// fails too, the floor is the default member, tie or no tie.
	picked, err := r.askModel(ctx, t, message)
	if err != nil {
		r.logger.Warn("model classification failed, falling back to default member",
			"team", t.Name, "error", err, "trace_id", trace.FromContext(ctx))
		return &Decision{Member: t.DefaultMember, Method: MethodDefault, Reason: err.Error()}
	}
	return &Decision{
		Member:     picked.Member,
		Method:     MethodLLM,
		Confidence: picked.Confidence,
		Reason:     picked.Reason,
	}
}

// askModel consults the provider under the team's timeout. The call runs in
// its own goroutine so a slow provider is abandoned, not awaited; a stale
// result arriving after the deadline is discarded.
func (r *Router) askModel(ctx context.Context, t *team.Team, message string) (*PickResponse, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("router: no model provider configured")
	}

	wait := defaultLLMWait
	model := ""
	if t.LLM != nil {
		if t.LLM.TimeoutMS > 0 {
			wait = time.Duration(t.LLM.TimeoutMS) * time.Millisecond
		}
		model = t.LLM.Model
	}

	members := make([]Candidate, 0, len(t.Members))
	for _, m := range t.Members {
		members = append(members, Candidate{Key: m.Key, Description: m.Description})
	}
	req := PickRequest{Message: message, Team: t.Name, Members: members, Model: model}

	callCtx, cancel := context.WithTimeout(ctx, wait)

	type result struct {
		picked *PickResponse
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		defer cancel()
		picked, err := r.provider.Pick(callCtx, req)
		ch <- result{picked, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if t.MemberFor(res.picked.Member) == nil {
			return nil, fmt.Errorf("%w: unknown member %q", ErrMalformedOutput, res.picked.Member)
		}
		return res.picked, nil
	case <-callCtx.Done():
		return nil, fmt.Errorf("router: model classification timed out after %s", wait)
	}
}
