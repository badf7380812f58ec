// Package mongo hosts the MongoDB-backed checkpointer. Each thread's message
// list is stored as a single document keyed by thread id and replaced
// wholesale on every persist, which matches the graph's append-only list
// semantics: the newest document is always a superset of the prior one.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/quadracode/quadracode/runtime/chat"
)

const (
	defaultCollection = "thread_checkpoints"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "checkpoint-mongo"
)

// Options configures the Mongo checkpointer.
type Options struct {
	// Client is the Mongo connection. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection overrides the checkpoint collection name.
	Collection string
	// Timeout bounds individual Mongo operations.
	Timeout time.Duration
}

// Checkpointer implements graph.Checkpointer on MongoDB.
type Checkpointer struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// New returns a Checkpointer backed by MongoDB and ensures the unique thread
// index exists.
func New(opts Options) (*Checkpointer, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newWithCollection(opts.Client, coll, timeout), nil
}

func newWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) *Checkpointer {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Checkpointer{mongo: mongoClient, coll: coll, timeout: timeout}
}

// Name implements goa.design/clue/health.Pinger.
func (c *Checkpointer) Name() string {
	return clientName
}

// Ping implements goa.design/clue/health.Pinger.
func (c *Checkpointer) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Get loads the persisted message list for the thread.
func (c *Checkpointer) Get(ctx context.Context, threadID string) ([]chat.Turn, bool, error) {
	if threadID == "" {
		return nil, false, errors.New("thread id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc threadDocument
	if err := c.coll.FindOne(ctx, bson.M{"thread_id": threadID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc.toTurns(), true, nil
}

// Put replaces the thread's persisted message list.
func (c *Checkpointer) Put(ctx context.Context, threadID string, turns []chat.Turn) error {
	if threadID == "" {
		return errors.New("thread id is required")
	}
	doc := fromTurns(threadID, turns)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.ReplaceOne(ctx, bson.M{"thread_id": threadID}, doc,
		options.Replace().SetUpsert(true))
	return err
}

// Delete removes the thread's persisted state. Unknown threads are a no-op.
func (c *Checkpointer) Delete(ctx context.Context, threadID string) error {
	if threadID == "" {
		return errors.New("thread id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.DeleteOne(ctx, bson.M{"thread_id": threadID})
	return err
}

func (c *Checkpointer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type threadDocument struct {
	ThreadID  string         `bson:"thread_id"`
	Turns     []turnDocument `bson:"turns"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type turnDocument struct {
	Role       string             `bson:"role"`
	Content    string             `bson:"content"`
	Name       string             `bson:"name,omitempty"`
	ToolCallID string             `bson:"tool_call_id,omitempty"`
	ToolCalls  []toolCallDocument `bson:"tool_calls,omitempty"`
}

type toolCallDocument struct {
	ID   string `bson:"id"`
	Name string `bson:"name"`
	Args string `bson:"args,omitempty"`
}

func fromTurns(threadID string, turns []chat.Turn) threadDocument {
	doc := threadDocument{
		ThreadID:  threadID,
		Turns:     make([]turnDocument, len(turns)),
		UpdatedAt: time.Now().UTC(),
	}
	for i, t := range turns {
		td := turnDocument{
			Role:       t.Role,
			Content:    t.Content,
			Name:       t.Name,
			ToolCallID: t.ToolCallID,
		}
		for _, call := range t.ToolCalls {
			td.ToolCalls = append(td.ToolCalls, toolCallDocument{
				ID:   call.ID,
				Name: call.Name,
				Args: string(call.Args),
			})
		}
		doc.Turns[i] = td
	}
	return doc
}

func (doc threadDocument) toTurns() []chat.Turn {
	turns := make([]chat.Turn, len(doc.Turns))
	for i, td := range doc.Turns {
		turn := chat.Turn{
			Role:       td.Role,
			Content:    td.Content,
			Name:       td.Name,
			ToolCallID: td.ToolCallID,
		}
		for _, call := range td.ToolCalls {
			tc := chat.ToolCall{ID: call.ID, Name: call.Name}
			if call.Args != "" {
				tc.Args = json.RawMessage(call.Args)
			}
			turn.ToolCalls = append(turn.ToolCalls, tc)
		}
		turns[i] = turn
	}
	return turns
}

func ensureIndexes(ctx context.Context, coll collection) error {
	threadIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, threadIndex)
	return err
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	ReplaceOne(ctx context.Context, filter any, replacement any,
		opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any,
		opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any,
	opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any,
	opts ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
