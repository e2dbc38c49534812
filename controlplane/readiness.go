package controlplane

import (
	"context"
	"encoding/json"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/cperrors"
	"github.com/choreoflow/choreoctl/eventstream"
	"github.com/choreoflow/choreoctl/telemetry"
)

// Notifier signals worker agents when their upstream dependencies are
// satisfied (spec §4.4). It layers on top of Store for readiness snapshots
// and on agentruntime.Runtime to deliver the event; the eventstream
// publisher is a best-effort secondary fan-out and never fails the call.
type Notifier struct {
	store    *Store
	runtime  agentruntime.Runtime
	events   *eventstream.Notifier
	skipList map[Status]bool
	instr    instrumentation
}

// NotifierOption configures optional Notifier behavior.
type NotifierOption func(*Notifier)

// WithNotifierTelemetry routes every Notifier operation's span and
// counter/timer through tracer/metrics instead of the no-op defaults.
func WithNotifierTelemetry(tracer telemetry.Tracer, metrics telemetry.Metrics) NotifierOption {
	return func(n *Notifier) { n.instr = instrumentation{tracer: tracer, metrics: metrics} }
}

// NewNotifier builds a Notifier. events may be nil to disable the secondary
// Pulse fan-out entirely.
func NewNotifier(store *Store, runtime agentruntime.Runtime, events *eventstream.Notifier, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		store:   store,
		runtime: runtime,
		events:  events,
		skipList: map[Status]bool{
			StatusRunning:   true,
			StatusSucceeded: true,
			StatusFailed:    true,
		},
		instr: defaultInstrumentation(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyOptions configures NotifyIfReady.
type NotifyOptions struct {
	Reason       string
	SourceState  string // empty for the initial kickoff
	Payload      any
	RequireReady bool // default true
	Async        bool
}

// NotifyResult is NotifyIfReady's return value.
type NotifyResult struct {
	Ready      bool
	Skipped    bool
	SkipReason string
	AgentID    string
	MessageID  string
	RunID      string
}

// NotifyIfReady signals state's assigned worker agent iff all of its
// upstream states have succeeded and state's own status is not in the
// notifier's skip list of statuses (spec §4.4). It is idempotent at the receiver:
// sending twice produces at most one effect because the receiver rechecks
// its own StateDoc under CAS before acting.
func (n *Notifier) NotifyIfReady(ctx context.Context, workflowID, state string, opts NotifyOptions) (*NotifyResult, error) {
	var result *NotifyResult
	err := n.instr.traced(ctx, "notifyIfReady", func(ctx context.Context) error {
		out, err := n.notifyIfReady(ctx, workflowID, state, opts)
		result = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (n *Notifier) notifyIfReady(ctx context.Context, workflowID, state string, opts NotifyOptions) (*NotifyResult, error) {
	read, err := n.store.ReadControlPlane(ctx, workflowID, ReadControlPlaneOptions{
		States:           []string{state},
		IncludeMeta:      true,
		ComputeReadiness: true,
	})
	if err != nil {
		return nil, err
	}

	agentID, ok := read.Meta.Agents[state]
	if !ok || agentID == "" {
		return nil, cperrors.New(cperrors.KindNotFound, "no agent bound to state %q", state)
	}

	doc := read.States[state]
	if n.skipList[doc.Status] {
		return &NotifyResult{Skipped: true, SkipReason: "status_in_skip_list:" + string(doc.Status), AgentID: agentID}, nil
	}

	requireReady := opts.RequireReady
	var ready bool
	if requireReady {
		ready = read.Readiness[state]
		if !ready {
			return &NotifyResult{Ready: false, Skipped: true, SkipReason: "upstream_incomplete", AgentID: agentID}, nil
		}
	}

	var sourcePtr *string
	if opts.SourceState != "" {
		src := opts.SourceState
		sourcePtr = &src
	}
	env := eventstream.NewEnvelope(workflowID, state, sourcePtr, opts.Reason, opts.Payload)
	content, err := envelopeText(env)
	if err != nil {
		return nil, err
	}

	send, err := n.runtime.SendMessage(ctx, agentID, content, opts.Async)
	if err != nil {
		return nil, err
	}

	if n.events != nil {
		_ = n.events.Publish(ctx, env)
	}

	return &NotifyResult{
		Ready:     ready,
		AgentID:   agentID,
		MessageID: send.MessageID,
		RunID:     send.RunID,
	}, nil
}

// TargetResult is one entry of NotifyNextWorkers's per-target report.
type TargetResult struct {
	State  string
	Result *NotifyResult
	Error  error
}

// NotifyNextWorkersOptions configures NotifyNextWorkers.
type NotifyNextWorkersOptions struct {
	IncludeOnlyReady bool // default true
	Async            bool
	Payload          any
}

// NotifyNextWorkers fans out NotifyIfReady to every downstream state of
// sourceState (or, when sourceState is empty, to every source state with no
// upstream — the initial kickoff), per spec §4.4.
func (n *Notifier) NotifyNextWorkers(ctx context.Context, workflowID, sourceState string, opts NotifyNextWorkersOptions) ([]TargetResult, error) {
	var meta WorkflowMeta
	if err := n.store.docs.Get(ctx, MetaKey(workflowID), &meta); err != nil {
		return nil, err
	}

	var targets []string
	var reason string
	if sourceState != "" {
		targets = meta.Deps[sourceState].Downstream
		reason = eventstream.ReasonUpstreamDone
	} else {
		reason = eventstream.ReasonInitial
		for _, name := range meta.States {
			if len(meta.Deps[name].Upstream) == 0 {
				targets = append(targets, name)
			}
		}
	}

	results := make([]TargetResult, 0, len(targets))
	for _, target := range targets {
		res, err := n.NotifyIfReady(ctx, workflowID, target, NotifyOptions{
			Reason:       reason,
			SourceState:  sourceState,
			Payload:      opts.Payload,
			RequireReady: opts.IncludeOnlyReady,
			Async:        opts.Async,
		})
		results = append(results, TargetResult{State: target, Result: res, Error: err})
	}
	return results, nil
}

// envelopeText renders env as the JSON text content of the system-role
// message sent to the worker agent (spec §6.2).
func envelopeText(env eventstream.Envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal event envelope")
	}
	return string(b), nil
}
