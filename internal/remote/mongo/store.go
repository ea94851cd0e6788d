// Package mongo is a live-listener remote.Store on MongoDB.
//
// All accounts share one collection of records shaped
//
//	{_id: path, account_id, collection, doc_id, data, seq}
//
// where data holds the document and seq its creation time. Subscriptions
// list the collection, then follow a change stream filtered to the
// collection's path prefix and re-list on every event. Change streams need a
// replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/remote"
)

// Config holds connection settings.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// DefaultCollection is used when Config.Collection is empty.
const DefaultCollection = "documents"

type record struct {
	ID         string `bson:"_id"`
	AccountID  string `bson:"account_id"`
	Collection string `bson:"collection"`
	DocID      string `bson:"doc_id"`
	Data       bson.M `bson:"data"`
	Seq        int64  `bson:"seq"`
}

// Store is a MongoDB-backed remote.Store.
type Store struct {
	client *mongodriver.Client
	coll   *mongodriver.Collection
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	subs   map[*watcher]struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ remote.Store = (*Store)(nil)

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w: %v", remote.ErrUnavailable, err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "collection", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo create index: %w", err)
	}

	return &Store{
		client: client,
		coll:   coll,
		logger: logger,
		now:    time.Now,
		subs:   make(map[*watcher]struct{}),
	}, nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, path doc.Path) (doc.Map, error) {
	if err := path.Validate(true); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, remote.ErrClosed
	}

	var rec record
	err := s.coll.FindOne(ctx, bson.M{"_id": path.String()}).Decode(&rec)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("get %s: %w", path, remote.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return mapFromBSON(rec.Data)
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, path doc.Path, data doc.Map) error {
	update := bson.M{
		"$set":         bson.M{"data": toBSON(data)},
		"$setOnInsert": s.insertFields(path),
	}
	return s.update(ctx, path, update)
}

// Merge implements remote.Store. Each top-level field becomes a $set on
// data.<field>.
func (s *Store) Merge(ctx context.Context, path doc.Path, data doc.Map) error {
	set := bson.M{}
	for k, v := range data {
		set["data."+k] = valueToBSON(v)
	}
	update := bson.M{"$setOnInsert": s.insertFields(path)}
	if len(set) > 0 {
		update["$set"] = set
	}
	return s.update(ctx, path, update)
}

func (s *Store) insertFields(path doc.Path) bson.M {
	return bson.M{
		"account_id": path.AccountID,
		"collection": path.Collection,
		"doc_id":     path.DocumentID,
		"seq":        s.now().UnixNano(),
	}
}

func (s *Store) update(ctx context.Context, path doc.Path, update bson.M) error {
	if err := path.Validate(true); err != nil {
		return err
	}
	if s.isClosed() {
		return remote.ErrClosed
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": path.String()}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, path doc.Path) error {
	if err := path.Validate(true); err != nil {
		return err
	}
	if s.isClosed() {
		return remote.ErrClosed
	}
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": path.String()}); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// List implements remote.Store. Documents are ordered by creation time.
func (s *Store) List(ctx context.Context, col doc.Path) (remote.Snapshot, error) {
	if err := col.Validate(false); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, remote.ErrClosed
	}

	filter := bson.M{"account_id": col.AccountID, "collection": col.Collection}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", col, err)
	}
	defer cursor.Close(ctx)

	snap := remote.Snapshot{}
	for cursor.Next(ctx) {
		var rec record
		if err := cursor.Decode(&rec); err != nil {
			return nil, fmt.Errorf("list %s: %w: %w", col, remote.ErrMalformed, err)
		}
		data, err := mapFromBSON(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("list %s: document %s: %w: %w", col, rec.DocID, remote.ErrMalformed, err)
		}
		snap = append(snap, remote.Document{ID: rec.DocID, Data: data})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", col, err)
	}
	return snap, nil
}

// Close ends all subscriptions and disconnects.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watchers := make([]*watcher, 0, len(s.subs))
	for w := range s.subs {
		watchers = append(watchers, w)
	}
	s.subs = make(map[*watcher]struct{})
	s.mu.Unlock()

	for _, w := range watchers {
		w.Cancel()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// prefixFilter builds the change stream pipeline for one collection path.
func prefixFilter(col doc.Path) bson.A {
	pattern := "^" + regexp.QuoteMeta(col.Prefix())
	return bson.A{
		bson.M{"$match": bson.M{"documentKey._id": bson.M{"$regex": pattern}}},
	}
}
