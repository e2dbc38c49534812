package controlplane

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/choreoflow/choreoctl/cperrors"
)

// defaultLeaseTTL mirrors the 300s default in acquire_state_lease.
const defaultLeaseTTL = 300 * time.Second

// AcquireOptions configures Acquire (spec §4.2).
type AcquireOptions struct {
	TTL                  time.Duration
	RequireReady         bool
	RequireOwnerMatch    bool
	AllowStealIfExpired  bool
	SetRunningOnAcquire  bool
	AttemptsIncrement    int
	LeaseToken           string // precomputed; a new uuid is minted if empty
}

// DefaultAcquireOptions returns the defaults named in spec §4.2.
func DefaultAcquireOptions() AcquireOptions {
	return AcquireOptions{
		TTL:                 defaultLeaseTTL,
		RequireReady:        true,
		RequireOwnerMatch:   true,
		AllowStealIfExpired: true,
		SetRunningOnAcquire: true,
		AttemptsIncrement:   1,
	}
}

// AcquireResult is Acquire's return value.
type AcquireResult struct {
	Lease        Lease
	Ready        *bool
	UpdatedState StateDoc
}

// Acquire grants owner exclusive, time-bounded ownership of state (spec
// §4.2). It reads readiness and owner-match preconditions outside the CAS
// transaction (a stale read here only risks a redundant retry, never a
// correctness violation, since the lease grant itself is still CAS-guarded)
// and then performs the grant under optimistic concurrency on the StateDoc.
func (s *Store) Acquire(ctx context.Context, workflowID, state, ownerAgentID string, opts AcquireOptions) (*AcquireResult, error) {
	var result *AcquireResult
	err := s.instr.traced(ctx, "acquire", func(ctx context.Context) error {
		out, err := s.acquire(ctx, workflowID, state, ownerAgentID, opts)
		result = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) acquire(ctx context.Context, workflowID, state, ownerAgentID string, opts AcquireOptions) (*AcquireResult, error) {
	if opts.TTL <= 0 {
		opts.TTL = defaultLeaseTTL
	}

	var readyPtr *bool
	if opts.RequireReady {
		read, err := s.ReadControlPlane(ctx, workflowID, ReadControlPlaneOptions{
			States:           []string{state},
			IncludeMeta:      true,
			ComputeReadiness: true,
		})
		if err != nil {
			return nil, err
		}
		ready := read.Readiness[state]
		readyPtr = &ready
		if !ready {
			return nil, cperrors.New(cperrors.KindNotReady, "state %q is not ready: upstream incomplete", state)
		}
	}

	if opts.RequireOwnerMatch {
		var meta WorkflowMeta
		if err := s.docs.Get(ctx, MetaKey(workflowID), &meta); err != nil {
			return nil, err
		}
		if bound, ok := meta.Agents[state]; ok && bound != "" && bound != ownerAgentID {
			return nil, cperrors.New(cperrors.KindOwnerMismatch, "state %q is bound to agent %q, not %q", state, bound, ownerAgentID)
		}
	}

	token := opts.LeaseToken
	if token == "" {
		token = uuid.NewString()
	}

	key := StateKey(workflowID, state)
	var result StateDoc
	now := time.Now().UTC()

	err := s.docs.Update(ctx, key, true, func(current json.RawMessage) (any, error) {
		var doc StateDoc
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, cperrors.Wrap(cperrors.KindBackendError, err, "decode state %q", state)
		}

		switch {
		case !doc.Lease.Held():
			doc.Lease = Lease{Token: token, OwnerAgentID: ownerAgentID, TS: &now, TTLSeconds: int(opts.TTL.Seconds())}
		case doc.Lease.Expired(now) && opts.AllowStealIfExpired:
			doc.Lease = Lease{Token: token, OwnerAgentID: ownerAgentID, TS: &now, TTLSeconds: int(opts.TTL.Seconds())}
		default:
			return nil, cperrors.New(cperrors.KindLeaseHeld, "state %q lease already held by %q", state, doc.Lease.OwnerAgentID)
		}

		if opts.SetRunningOnAcquire && NormalizeStatus(doc.Status) == StatusPending {
			doc.Status = StatusRunning
			doc.StartedAt = &now
			doc.Attempts += opts.AttemptsIncrement
		}

		result = doc
		return doc, nil
	})
	if err != nil {
		return nil, err
	}

	return &AcquireResult{Lease: result.Lease, Ready: readyPtr, UpdatedState: result}, nil
}

// RenewOptions configures Renew.
type RenewOptions struct {
	RequireOwnerMatch bool
	RejectIfExpired   bool // default true
	TouchOnly         bool // when true, do not update ttl_s even if NewTTL is set
	NewTTL            time.Duration
	OwnerAgentID      string
}

// Renew extends a lease's ts (and optionally ttl_s) under CAS, failing if
// the provided token no longer matches or the lease has already expired
// (spec §4.2).
func (s *Store) Renew(ctx context.Context, workflowID, state, leaseToken string, opts RenewOptions) (*AcquireResult, error) {
	var result *AcquireResult
	err := s.instr.traced(ctx, "renew", func(ctx context.Context) error {
		out, err := s.renew(ctx, workflowID, state, leaseToken, opts)
		result = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) renew(ctx context.Context, workflowID, state, leaseToken string, opts RenewOptions) (*AcquireResult, error) {
	key := StateKey(workflowID, state)
	now := time.Now().UTC()
	var result StateDoc

	err := s.docs.Update(ctx, key, true, func(current json.RawMessage) (any, error) {
		var doc StateDoc
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, cperrors.Wrap(cperrors.KindBackendError, err, "decode state %q", state)
		}

		if !doc.Lease.Held() || doc.Lease.Token != leaseToken {
			return nil, cperrors.New(cperrors.KindLeaseMismatch, "state %q: lease token does not match", state)
		}
		if opts.RequireOwnerMatch && doc.Lease.OwnerAgentID != opts.OwnerAgentID {
			return nil, cperrors.New(cperrors.KindOwnerMismatch, "state %q: renew owner mismatch", state)
		}
		rejectIfExpired := opts.RejectIfExpired
		if doc.Lease.Expired(now) {
			if rejectIfExpired {
				return nil, cperrors.New(cperrors.KindLeaseExpired, "state %q: lease expired", state)
			}
		}

		doc.Lease.TS = &now
		if !opts.TouchOnly && opts.NewTTL > 0 {
			doc.Lease.TTLSeconds = int(opts.NewTTL.Seconds())
		}

		result = doc
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return &AcquireResult{Lease: result.Lease, UpdatedState: result}, nil
}

// ReleaseOptions configures Release.
type ReleaseOptions struct {
	Force            bool // skip the token-match CAS check
	ClearOwner       bool
}

// Release clears a lease's token under CAS (spec §4.2). It never changes
// status: the caller is responsible for setting a terminal status before
// releasing.
func (s *Store) Release(ctx context.Context, workflowID, state, leaseToken string, opts ReleaseOptions) (*AcquireResult, error) {
	var result *AcquireResult
	err := s.instr.traced(ctx, "release", func(ctx context.Context) error {
		out, err := s.release(ctx, workflowID, state, leaseToken, opts)
		result = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) release(ctx context.Context, workflowID, state, leaseToken string, opts ReleaseOptions) (*AcquireResult, error) {
	key := StateKey(workflowID, state)
	now := time.Now().UTC()
	var result StateDoc

	err := s.docs.Update(ctx, key, true, func(current json.RawMessage) (any, error) {
		var doc StateDoc
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, cperrors.Wrap(cperrors.KindBackendError, err, "decode state %q", state)
		}

		if !opts.Force && doc.Lease.Token != leaseToken {
			return nil, cperrors.New(cperrors.KindLeaseMismatch, "state %q: release token does not match", state)
		}

		doc.Lease.Token = ""
		if opts.ClearOwner {
			doc.Lease.OwnerAgentID = ""
		}
		doc.Lease.TS = &now

		result = doc
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return &AcquireResult{Lease: result.Lease, UpdatedState: result}, nil
}
