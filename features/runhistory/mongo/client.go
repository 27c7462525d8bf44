// Package mongo provides a MongoDB-backed runhistory.Store, the durable
// alternative to runhistory/file's flat JSON files.
//
// Grounded on
// goadesign-goa-ai/features/run/mongo/clients/mongo/client.go (collection
// wrapper seam for testability, ensureIndexes, upsert-by-filter pattern)
// and goadesign-goa-ai/features/run/mongo/store.go (thin Store delegating
// to the client), adapted to the v2 mongo-driver import paths (the teacher
// file imports the v1-style "go.mongodb.org/mongo-driver/mongo" path despite
// go.mod declaring mongo-driver/v2 — a correctness bug there this
// implementation does not reproduce) and to runhistory.Record instead of
// run.Record.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"retrai.dev/retrai/runtime/agent/runhistory"
)

const (
	defaultCollection = "run_history"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo-backed run-history store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements runhistory.Store backed by MongoDB.
type Store struct {
	coll    collection
	timeout time.Duration
}

// New constructs a Store, creating the uniqueness index on run_id.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	wrapper := mongoCollection{coll: mcoll}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &Store{coll: wrapper, timeout: timeout}, nil
}

// Append implements runhistory.Store as an upsert keyed by run_id, so a
// crash-recovery rerun of the same run_id replaces rather than duplicates.
func (s *Store) Append(ctx context.Context, r runhistory.Record) error {
	if r.RunID == "" {
		return errors.New("mongo: run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := fromRecord(r)
	filter := bson.M{"run_id": r.RunID}
	update := bson.M{"$set": doc}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// Load implements runhistory.Store.
func (s *Store) Load(ctx context.Context, runID string) (runhistory.Record, error) {
	if runID == "" {
		return runhistory.Record{}, errors.New("mongo: run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc recordDocument
	if err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return runhistory.Record{}, runhistory.ErrNotFound
		}
		return runhistory.Record{}, err
	}
	return doc.toRecord(), nil
}

// List implements runhistory.Store, most recently finished first.
func (s *Store) List(ctx context.Context) ([]runhistory.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "finished_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []runhistory.Record
	for cur.Next(ctx) {
		var doc recordDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecord())
	}
	return out, cur.Err()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type recordDocument struct {
	RunID            string    `bson:"run_id"`
	Goal             string    `bson:"goal"`
	Model            string    `bson:"model"`
	Status           string    `bson:"status"`
	Iterations       int       `bson:"iterations"`
	MaxIterations    int       `bson:"max_iterations"`
	TotalTokens      int       `bson:"total_tokens"`
	EstimatedCostUSD float64   `bson:"estimated_cost_usd"`
	StartedAt        time.Time `bson:"started_at"`
	FinishedAt       time.Time `bson:"finished_at"`
	DurationSeconds  float64   `bson:"duration_seconds"`
	Reason           string    `bson:"reason"`
	CWD              string    `bson:"cwd"`
	FilesChanged     []string  `bson:"files_changed,omitempty"`
}

func fromRecord(r runhistory.Record) recordDocument {
	return recordDocument{
		RunID:            r.RunID,
		Goal:             r.Goal,
		Model:            r.Model,
		Status:           string(r.Status),
		Iterations:       r.Iterations,
		MaxIterations:    r.MaxIterations,
		TotalTokens:      r.TotalTokens,
		EstimatedCostUSD: r.EstimatedCostUSD,
		StartedAt:        r.StartedAt.UTC(),
		FinishedAt:       r.FinishedAt.UTC(),
		DurationSeconds:  r.DurationSeconds,
		Reason:           r.Reason,
		CWD:              r.CWD,
		FilesChanged:     r.FilesChanged,
	}
}

func (doc recordDocument) toRecord() runhistory.Record {
	return runhistory.Record{
		RunID:            doc.RunID,
		Goal:             doc.Goal,
		Model:            doc.Model,
		Status:           runhistory.Status(doc.Status),
		Iterations:       doc.Iterations,
		MaxIterations:    doc.MaxIterations,
		TotalTokens:      doc.TotalTokens,
		EstimatedCostUSD: doc.EstimatedCostUSD,
		StartedAt:        doc.StartedAt,
		FinishedAt:       doc.FinishedAt,
		DurationSeconds:  doc.DurationSeconds,
		Reason:           doc.Reason,
		CWD:              doc.CWD,
		FilesChanged:     doc.FilesChanged,
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// collection narrows *mongodriver.Collection to the operations this store
// uses, so tests can substitute a fake without a live server.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
