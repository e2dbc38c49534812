// Package mongo implements the low-level MongoDB client used by the audit
// archive store.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/choreoflow/choreoctl/controlplane"
)

type (
	// Client exposes Mongo-backed operations for the audit archive.
	Client interface {
		Ping(ctx context.Context) error
		Archive(ctx context.Context, workflowID, kind string, rec controlplane.AuditRecord) error
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	auditDocument struct {
		ID          bson.ObjectID  `bson:"_id,omitempty"`
		WorkflowID  string         `bson:"workflow_id"`
		Kind        string         `bson:"kind"`
		WriteAt     time.Time      `bson:"write_at"`
		FinalStatus string         `bson:"final_status,omitempty"`
		Record      []byte         `bson:"record"`
	}
)

const (
	defaultCollection = "workflow_audit_records"
	defaultTimeout    = 5 * time.Second
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(coll)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: wrapper, timeout: timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Archive persists a best-effort durable copy of rec. It never mutates the
// canonical dp:wf:{id}:audit:{kind} document; it is a secondary sink only.
func (c *client) Archive(ctx context.Context, workflowID, kind string, rec controlplane.AuditRecord) error {
	if workflowID == "" {
		return errors.New("workflow id is required")
	}
	if kind == "" {
		return errors.New("kind is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := auditDocument{
		WorkflowID:  workflowID,
		Kind:        kind,
		WriteAt:     rec.WriteAt.UTC(),
		FinalStatus: string(rec.FinalStatus),
		Record:      payload,
	}
	_, err = c.coll.InsertOne(ctx, doc)
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "workflow_id", Value: 1},
			{Key: "kind", Value: 1},
			{Key: "write_at", Value: -1},
		},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
