// Package mongo wires the auditstore.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/choreoflow/choreoctl/auditstore/mongo/clients/mongo"
	"github.com/choreoflow/choreoctl/controlplane"
)

// Store implements auditstore.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed audit archive using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Archive implements auditstore.Store.
func (s *Store) Archive(ctx context.Context, workflowID, kind string, rec controlplane.AuditRecord) error {
	return s.client.Archive(ctx, workflowID, kind, rec)
}
