package archive

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/durableflow/journal"
)

// mongoDoc mirrors Record for BSON storage, using _id for the
// invocation id the way the teacher's document stores key off domain
// identifiers rather than a generated ObjectID.
type mongoDoc struct {
	ID          string          `bson:"_id"`
	ServiceName string          `bson:"service_name"`
	HandlerName string          `bson:"handler_name"`
	Key         string          `bson:"key"`
	ArchivedAt  int64           `bson:"archived_at"`
	Entries     []journal.Entry `bson:"entries"`
}

// MongoArchive persists invocation records to a MongoDB collection.
type MongoArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoArchive(client *mongo.Client, database, collection string) *MongoArchive {
	return &MongoArchive{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

func (a *MongoArchive) Save(ctx context.Context, rec Record) error {
	doc := mongoDoc{
		ID:          rec.InvocationID,
		ServiceName: rec.ServiceName,
		HandlerName: rec.HandlerName,
		Key:         rec.Key,
		ArchivedAt:  rec.ArchivedAt.UnixNano(),
		Entries:     rec.Entries,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := a.collection.ReplaceOne(ctx, bson.M{"_id": rec.InvocationID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongo archive: save: %w", err)
	}
	return nil
}

func (a *MongoArchive) Get(ctx context.Context, invocationID string) (Record, error) {
	var doc mongoDoc
	err := a.collection.FindOne(ctx, bson.M{"_id": invocationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, &ErrNotFound{InvocationID: invocationID}
	}
	if err != nil {
		return Record{}, fmt.Errorf("mongo archive: get: %w", err)
	}
	return docToRecord(doc), nil
}

func (a *MongoArchive) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	filter := bson.M{}
	if opts.ServiceName != "" {
		filter["service_name"] = opts.ServiceName
	}
	if !opts.From.IsZero() || !opts.To.IsZero() {
		archivedAt := bson.M{}
		if !opts.From.IsZero() {
			archivedAt["$gte"] = opts.From
		}
		if !opts.To.IsZero() {
			archivedAt["$lte"] = opts.To
		}
		filter["archived_at"] = archivedAt
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "archived_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	cur, err := a.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo archive: list: %w", err)
	}
	defer cur.Close(ctx)

	var out []Record
	for cur.Next(ctx) {
		var doc mongoDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo archive: decode: %w", err)
		}
		out = append(out, docToRecord(doc))
	}
	return out, cur.Err()
}

func (a *MongoArchive) Delete(ctx context.Context, invocationID string) error {
	res, err := a.collection.DeleteOne(ctx, bson.M{"_id": invocationID})
	if err != nil {
		return fmt.Errorf("mongo archive: delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return &ErrNotFound{InvocationID: invocationID}
	}
	return nil
}

func (a *MongoArchive) Close() error {
	return a.client.Disconnect(context.Background())
}

func docToRecord(doc mongoDoc) Record {
	return Record{
		InvocationID: doc.ID,
		ServiceName:  doc.ServiceName,
		HandlerName:  doc.HandlerName,
		Key:          doc.Key,
		ArchivedAt:   timeFromUnixNano(doc.ArchivedAt),
		Entries:      doc.Entries,
	}
}

var _ Archive = (*MongoArchive)(nil)
