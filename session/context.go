package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/choreoflow/choreoctl/agentruntime"
	"github.com/choreoflow/choreoctl/cperrors"
)

// CreateSessionContext creates and attaches a session_context:<sessionID>
// memory block on the Conductor, grounded on create_session_context.py.
// The returned blockID must be passed to AttachSharedBlock for every
// Companion created afterward, and to every later SessionContext operation.
func (m *Manager) CreateSessionContext(ctx context.Context, sessionID, conductorID, objective string, sharedData map[string]any) (*SessionContext, string, error) {
	if sessionID == "" || conductorID == "" {
		return nil, "", cperrors.New(cperrors.KindInvalidInput, "session_id and conductor_id are required")
	}
	if sharedData == nil {
		sharedData = map[string]any{}
	}
	sc := &SessionContext{
		SessionID:      sessionID,
		ConductorID:    conductorID,
		Objective:      objective,
		State:          StateActive,
		ActiveTasks:    []string{},
		CompletedTasks: []string{},
		SharedData:     sharedData,
		Announcements:  []Announcement{},
	}

	raw, err := json.Marshal(sc)
	if err != nil {
		return nil, "", cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal session context")
	}

	blockID, err := m.rt.AttachMemoryBlock(ctx, conductorID, agentruntime.MemoryBlock{
		Label: sessionContextBlockLabel(sessionID),
		Value: string(raw),
		Limit: sessionContextBlockLimit,
	})
	if err != nil {
		return nil, "", cperrors.Wrap(cperrors.KindBackendError, err, "attach session_context block")
	}
	return sc, blockID, nil
}

// SessionContextUpdate carries the mutually-compatible fields
// update_session_context.py accepts in a single call; unset fields (nil
// slices/maps, empty strings) are left untouched.
type SessionContextUpdate struct {
	State             State
	AddActiveTask     string
	CompleteTask      string
	Announcement      string
	MergeSharedData   map[string]any
	CompanionCountSet *int
}

// UpdateSessionContext performs a read-modify-write on a session_context
// block, validating that the stored session_id matches sessionID before
// applying any change (a session-id mismatch is a hard error, per the
// original tool).
func (m *Manager) UpdateSessionContext(ctx context.Context, blockID, sessionID string, upd SessionContextUpdate) (*SessionContext, error) {
	var out SessionContext
	err := m.rt.UpdateBlock(ctx, blockID, func(current []byte) (any, error) {
		var sc SessionContext
		if len(current) > 0 {
			if err := json.Unmarshal(current, &sc); err != nil {
				return nil, cperrors.Wrap(cperrors.KindBackendError, err, "decode session_context block")
			}
		}
		if sc.SessionID != "" && sc.SessionID != sessionID {
			return nil, cperrors.New(cperrors.KindInvalidInput, "session_id mismatch: block belongs to %q, got %q", sc.SessionID, sessionID)
		}

		if upd.State != "" {
			sc.State = upd.State
		}
		if upd.AddActiveTask != "" {
			if !containsString(sc.ActiveTasks, upd.AddActiveTask) {
				sc.ActiveTasks = append(sc.ActiveTasks, upd.AddActiveTask)
			}
		}
		if upd.CompleteTask != "" {
			sc.ActiveTasks = removeString(sc.ActiveTasks, upd.CompleteTask)
			if !containsString(sc.CompletedTasks, upd.CompleteTask) {
				sc.CompletedTasks = append(sc.CompletedTasks, upd.CompleteTask)
			}
		}
		if upd.Announcement != "" {
			sc.Announcements = clampAnnouncements(append(sc.Announcements, Announcement{Timestamp: time.Now().UTC(), Message: upd.Announcement}))
		}
		if upd.MergeSharedData != nil {
			if sc.SharedData == nil {
				sc.SharedData = map[string]any{}
			}
			for k, v := range upd.MergeSharedData {
				sc.SharedData[k] = v
			}
		}
		if upd.CompanionCountSet != nil {
			sc.CompanionCount = *upd.CompanionCountSet
		}

		out = sc
		return sc, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadSessionContext reads and decodes the session_context block by id.
func (m *Manager) ReadSessionContext(ctx context.Context, blockID string) (*SessionContext, error) {
	var sc SessionContext
	if err := m.rt.ReadBlock(ctx, blockID, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(ss []string, v string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

