package controlplane

import (
	"context"
	"encoding/json"
	"time"

	"github.com/choreoflow/choreoctl/cperrors"
	"github.com/choreoflow/choreoctl/definition"
	"github.com/choreoflow/choreoctl/docstore"
	"github.com/choreoflow/choreoctl/telemetry"
)

// Store wraps a docstore.Store with the control-plane's document layout and
// operations (spec §4.1). It holds no state of its own beyond the backend
// handle, the same way the teacher's registry.Service wraps a store.Store.
type Store struct {
	docs  docstore.Store
	instr instrumentation
}

// StoreOption configures optional Store behavior beyond the required
// docstore.Store backend.
type StoreOption func(*Store)

// WithTelemetry routes every Store operation's span and counter/timer
// through tracer/metrics instead of the no-op defaults.
func WithTelemetry(tracer telemetry.Tracer, metrics telemetry.Metrics) StoreOption {
	return func(s *Store) { s.instr = instrumentation{tracer: tracer, metrics: metrics} }
}

// NewStore wraps docs with the control-plane operations.
func NewStore(docs docstore.Store, opts ...StoreOption) *Store {
	s := &Store{docs: docs, instr: defaultInstrumentation()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateResult reports what CreateControlPlane did.
type CreateResult struct {
	CreatedKeys []string
	ExistingKeys []string
	Meta WorkflowMeta
}

// CreateControlPlane derives states/deps/terminal_states from def and seeds
// WorkflowMeta plus one StateDoc per state, all with create-if-absent
// semantics (spec §4.1, §4.3 step 7). Calling it twice with the same
// definition is a no-op the second time: every key is reported existing and
// the returned meta is unchanged.
func (s *Store) CreateControlPlane(ctx context.Context, def *definition.Workflow, agents map[string]string) (*CreateResult, error) {
	states, deps, terminal, err := def.DeriveGraph()
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = map[string]string{}
	}

	meta := WorkflowMeta{
		WorkflowID:     def.WorkflowID,
		WorkflowName:   def.WorkflowName,
		SchemaVersion:  def.SchemaVersion,
		StartAt:        def.ASL.StartAt,
		States:         states,
		TerminalStates: terminal,
		Agents:         agents,
		Deps:           deps,
	}

	res := &CreateResult{}
	metaKey := MetaKey(def.WorkflowID)
	created, err := s.docs.Create(ctx, metaKey, meta, 0)
	if err != nil {
		return nil, err
	}
	if created {
		res.CreatedKeys = append(res.CreatedKeys, metaKey)
	} else {
		res.ExistingKeys = append(res.ExistingKeys, metaKey)
	}

	for _, state := range states {
		key := StateKey(def.WorkflowID, state)
		doc := StateDoc{Status: StatusPending, Attempts: 0}
		created, err := s.docs.Create(ctx, key, doc, 0)
		if err != nil {
			return nil, err
		}
		if created {
			res.CreatedKeys = append(res.CreatedKeys, key)
		} else {
			res.ExistingKeys = append(res.ExistingKeys, key)
		}
	}

	var out WorkflowMeta
	if err := s.docs.Get(ctx, metaKey, &out); err != nil {
		return nil, err
	}
	res.Meta = out
	return res, nil
}

// ReadResult is the aggregate response of ReadControlPlane.
type ReadResult struct {
	Meta      *WorkflowMeta
	States    map[string]StateDoc
	Readiness map[string]bool
}

// ReadControlPlaneOptions controls ReadControlPlane's behavior.
type ReadControlPlaneOptions struct {
	States            []string // if empty, all states in meta.States
	IncludeMeta       bool
	ComputeReadiness  bool
}

// ReadControlPlane reads WorkflowMeta and the requested StateDocs, and
// optionally computes readiness for each requested state (spec §4.1): a
// state is ready iff every upstream state has status succeeded; a source
// state (no upstream) is ready iff it is still pending.
func (s *Store) ReadControlPlane(ctx context.Context, workflowID string, opts ReadControlPlaneOptions) (*ReadResult, error) {
	var meta WorkflowMeta
	if err := s.docs.Get(ctx, MetaKey(workflowID), &meta); err != nil {
		return nil, err
	}

	states := opts.States
	if len(states) == 0 {
		states = meta.States
	}

	result := &ReadResult{States: map[string]StateDoc{}}
	if opts.IncludeMeta {
		result.Meta = &meta
	}

	docsByState := map[string]StateDoc{}
	for _, name := range states {
		var doc StateDoc
		if err := s.docs.Get(ctx, StateKey(workflowID, name), &doc); err != nil {
			return nil, err
		}
		doc.Status = NormalizeStatus(doc.Status)
		result.States[name] = doc
		docsByState[name] = doc
	}

	if opts.ComputeReadiness {
		result.Readiness = map[string]bool{}
		for _, name := range states {
			result.Readiness[name] = s.isReady(ctx, workflowID, name, meta, docsByState)
		}
	}
	return result, nil
}

// isReady implements the readiness predicate from spec §4.4, fetching any
// upstream StateDoc not already present in cache.
func (s *Store) isReady(ctx context.Context, workflowID, state string, meta WorkflowMeta, cache map[string]StateDoc) bool {
	dep, ok := meta.Deps[state]
	if !ok || len(dep.Upstream) == 0 {
		doc, ok := cache[state]
		if !ok {
			if err := s.docs.Get(ctx, StateKey(workflowID, state), &doc); err != nil {
				return false
			}
		}
		return NormalizeStatus(doc.Status) == StatusPending
	}
	for _, up := range dep.Upstream {
		doc, ok := cache[up]
		if !ok {
			if err := s.docs.Get(ctx, StateKey(workflowID, up), &doc); err != nil {
				return false
			}
		}
		if NormalizeStatus(doc.Status) != StatusSucceeded {
			return false
		}
	}
	return true
}

// StatePatch is the set of mutations UpdateState can apply in one
// transaction (spec §4.1).
type StatePatch struct {
	NewStatus        *Status
	AttemptsIncrement int
	LeaseToken       string // CAS check: if non-empty, must match current lease.token
	OwnerAgentID     *string
	LeaseTTLSeconds  *int
	ErrorMessage     *string
	SetStartedAt     bool
	SetFinishedAt    bool
	OutputJSON       any
	// OutputMergePath, when non-empty, RFC-7386-merges OutputJSON (which
	// must then be a JSON object) into the existing OutputDoc at this
	// dotted path instead of replacing OutputDoc.Value wholesale. The
	// typed-path equivalent of the original json_merge tool (spec §9's
	// "typed path model" redesign note), parsed via docstore.ParsePath.
	// "" or "$" merges at the document root.
	OutputMergePath string
	OutputTTL        time.Duration
}

// UpdateState applies patch to the StateDoc at (workflowID, state) under
// optimistic CAS, optionally writing an OutputDoc in the same logical
// transaction (spec §4.1 steps 1-6).
func (s *Store) UpdateState(ctx context.Context, workflowID, state string, patch StatePatch) (*StateDoc, error) {
	var result StateDoc
	err := s.instr.traced(ctx, "updateState", func(ctx context.Context) error {
		out, err := s.updateState(ctx, workflowID, state, patch)
		if err != nil {
			return err
		}
		result = *out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) updateState(ctx context.Context, workflowID, state string, patch StatePatch) (*StateDoc, error) {
	key := StateKey(workflowID, state)
	var result StateDoc

	err := s.docs.Update(ctx, key, true, func(current json.RawMessage) (any, error) {
		var doc StateDoc
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, cperrors.Wrap(cperrors.KindBackendError, err, "decode state %q", state)
		}

		if patch.LeaseToken != "" && doc.Lease.Token != "" && doc.Lease.Token != patch.LeaseToken {
			return nil, cperrors.New(cperrors.KindLeaseMismatch, "state %q held by a different lease token", state)
		}

		now := time.Now().UTC()
		if patch.NewStatus != nil {
			doc.Status = *patch.NewStatus
		}
		if patch.AttemptsIncrement > 0 {
			doc.Attempts += patch.AttemptsIncrement
		}
		if patch.OwnerAgentID != nil {
			doc.Lease.OwnerAgentID = *patch.OwnerAgentID
		}
		if patch.LeaseTTLSeconds != nil {
			doc.Lease.TTLSeconds = *patch.LeaseTTLSeconds
		}
		if patch.ErrorMessage != nil {
			doc.LastError = *patch.ErrorMessage
		}
		if patch.SetStartedAt {
			doc.StartedAt = &now
		}
		if patch.SetFinishedAt {
			doc.FinishedAt = &now
		}

		result = doc
		return doc, nil
	})
	if err != nil {
		return nil, err
	}

	if patch.OutputJSON != nil {
		outKey := OutputKey(workflowID, state)
		if patch.OutputMergePath != "" {
			path, err := docstore.ParsePath(patch.OutputMergePath)
			if err != nil {
				return nil, err
			}
			patchObj, ok := patch.OutputJSON.(map[string]any)
			if !ok {
				return nil, cperrors.New(cperrors.KindInvalidInput, "output_merge_path requires an object output_json")
			}
			// requireExists=false both creates OutputDoc on first write
			// (merging patchObj into an empty document) and merges into
			// whatever a prior attempt left behind on a retry.
			if err := s.docs.Update(ctx, outKey, false, func(current json.RawMessage) (any, error) {
				var existing OutputDoc
				if len(current) > 0 {
					if err := json.Unmarshal(current, &existing); err != nil {
						return nil, cperrors.Wrap(cperrors.KindBackendError, err, "decode output %q", state)
					}
				}
				doc, ok := existing.Value.(map[string]any)
				if !ok {
					doc = map[string]any{}
				}
				if err := path.MergePatch(doc, patchObj); err != nil {
					return nil, err
				}
				return OutputDoc{Value: doc}, nil
			}); err != nil {
				return nil, err
			}
		} else {
			out := OutputDoc{Value: patch.OutputJSON}
			// Update with requireExists=false both creates the key on first
			// write and overwrites unconditionally on a retry, so a later
			// attempt's output always wins.
			if err := s.docs.Update(ctx, outKey, false, func(json.RawMessage) (any, error) {
				return out, nil
			}); err != nil {
				return nil, err
			}
		}
		if patch.OutputTTL > 0 {
			if expirer, ok := s.docs.(interface {
				Expire(ctx context.Context, key string, ttl time.Duration) error
			}); ok {
				if err := expirer.Expire(ctx, outKey, patch.OutputTTL); err != nil {
					return nil, err
				}
			}
		}
	}

	return &result, nil
}
