package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 30 * time.Second

// MongoReportStore keeps one document per dispatch, keyed by its id. The
// report is stored as its JSON form so json tags decide the field names.
type MongoReportStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoReportStore(uri, dbName, collName string) (*MongoReportStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	return &MongoReportStore{
		client:     client,
		collection: client.Database(dbName).Collection(collName),
	}, nil
}

// Save inserts report under id. An existing report is never replaced.
func (s *MongoReportStore) Save(id uuid.UUID, report any) error {
	if id == uuid.Nil {
		return fmt.Errorf("report id is required: %w", os.ErrInvalid)
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	var body bson.D
	if err := bson.UnmarshalExtJSON(data, false, &body); err != nil {
		return fmt.Errorf("convert report: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	_, err = s.collection.InsertOne(ctx, bson.D{{Key: "_id", Value: id.String()}, {Key: "report", Value: body}})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("report %s: %w", id, os.ErrExist)
	}
	return err
}

// Load reads the report stored under id into out.
func (s *MongoReportStore) Load(id uuid.UUID, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	var doc struct {
		Report bson.Raw `bson:"report"`
	}
	err := s.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("report %s: %w", id, fs.ErrNotExist)
	}
	if err != nil {
		return err
	}
	data, err := bson.MarshalExtJSON(doc.Report, false, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *MongoReportStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
