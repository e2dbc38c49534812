package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the workflow-event envelope sent to a worker agent and, for
// observability, mirrored onto that workflow's Pulse stream (spec §6.2).
type Envelope struct {
	Type         string         `json:"type"`
	WorkflowID   string         `json:"workflow_id"`
	TargetState  string         `json:"target_state"`
	SourceState  *string        `json:"source_state"`
	Reason       string         `json:"reason"`
	Payload      any            `json:"payload"`
	TS           time.Time      `json:"ts"`
	ControlPlane ControlPlaneKeys `json:"control_plane"`
}

// ControlPlaneKeys points the receiving worker at its own documents.
type ControlPlaneKeys struct {
	MetaKey   string `json:"meta_key"`
	StateKey  string `json:"state_key"`
	OutputKey string `json:"output_key"`
}

// Notification reasons (spec §6.2 "reason" field).
const (
	ReasonInitial        = "initial"
	ReasonUpstreamDone   = "upstream_done"
	ReasonNotifyIfReady  = "notify_if_ready"
)

// NewEnvelope builds the event envelope for targetState, optionally
// originating from sourceState (nil for the initial kickoff).
func NewEnvelope(workflowID, targetState string, sourceState *string, reason string, payload any) Envelope {
	return Envelope{
		Type:        "workflow_event",
		WorkflowID:  workflowID,
		TargetState: targetState,
		SourceState: sourceState,
		Reason:      reason,
		Payload:     payload,
		TS:          time.Now().UTC(),
		ControlPlane: ControlPlaneKeys{
			MetaKey:   "cp:wf:" + workflowID + ":meta",
			StateKey:  "cp:wf:" + workflowID + ":state:" + targetState,
			OutputKey: "dp:wf:" + workflowID + ":output:" + targetState,
		},
	}
}

// Notifier mirrors workflow event envelopes onto a per-workflow Pulse
// stream, named "wf:{id}:events", for anything tailing workflow progress
// out-of-band from the agent-runtime adapter (a CLI, a dashboard). It is a
// secondary channel: failure to publish here must never fail the caller's
// primary send to the worker agent.
type Notifier struct {
	client Client
}

// NewNotifier wraps a Pulse Client for workflow-event fan-out.
func NewNotifier(client Client) *Notifier {
	return &Notifier{client: client}
}

// Publish appends env to the stream for env.WorkflowID. Errors are wrapped,
// never silently dropped, so the caller can choose to log-and-continue.
func (n *Notifier) Publish(ctx context.Context, env Envelope) error {
	if n == nil || n.client == nil {
		return nil
	}
	stream, err := n.client.Stream(streamName(env.WorkflowID))
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := stream.Add(ctx, env.Reason, payload); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

func streamName(workflowID string) string {
	return "wf:" + workflowID + ":events"
}
