// Package auditstore provides a durable, append-only archive for control
// plane audit records, outliving the document store's TTL-bound dp: keys.
package auditstore

import (
	"context"

	"github.com/choreoflow/choreoctl/controlplane"
)

// Store archives AuditRecord documents (spec §3.4) for a workflow beyond
// the document store's lifetime.
//
// Implementations must be durable: Finalize treats archive failures as
// best-effort warnings, so a Store that silently drops records defeats the
// purpose of a secondary archive.
type Store interface {
	// Archive persists a copy of rec for workflowID. kind distinguishes the
	// record within the workflow (e.g. "finalize", "amsp") and mirrors
	// controlplane.AuditKey's kind segment.
	Archive(ctx context.Context, workflowID, kind string, rec controlplane.AuditRecord) error
}
