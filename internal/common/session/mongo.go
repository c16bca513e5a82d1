package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rfq-workers/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 5 * time.Second

type categoryDocument struct {
	ID            string     `bson:"_id"`
	SessionID     string     `bson:"session_id"`
	Category      string     `bson:"category"`
	BidToken      string     `bson:"bid_token"`
	ContractValue float64    `bson:"contract_value"`
	Payload       *string    `bson:"payload"`
	BidAt         *time.Time `bson:"bid_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
}

func (d categoryDocument) record() models.CategoryRecord {
	rec := models.CategoryRecord{
		SessionID:     d.SessionID,
		Category:      models.Category(d.Category),
		BidToken:      d.BidToken,
		ContractValue: d.ContractValue,
		BidAt:         d.BidAt,
	}
	if d.Payload != nil {
		rec.Payload = json.RawMessage(*d.Payload)
	}
	return rec
}

func categoryDocID(sessionID string, category models.Category) string {
	return sessionID + "/" + string(category)
}

// MongoStore keeps sessions and category records in two collections. Bids are written with
// a conditional update on a null payload.
type MongoStore struct {
	sessions   *mongo.Collection
	categories *mongo.Collection
	ttl        time.Duration
	now        func() time.Time
}

func NewMongoStore(db *mongo.Database, ttl time.Duration) *MongoStore {
	return &MongoStore{
		sessions:   db.Collection("rfq_sessions"),
		categories: db.Collection("rfq_categories"),
		ttl:        ttl,
		now:        time.Now,
	}
}

// EnsureIndexes creates the session lookup index and, when a ttl is set, expiry indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	categoryIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	}
	if s.ttl > 0 {
		expire := options.Index().SetExpireAfterSeconds(int32(s.ttl.Seconds()))
		categoryIndexes = append(categoryIndexes, mongo.IndexModel{
			Keys: bson.D{{Key: "created_at", Value: 1}}, Options: expire,
		})
		if _, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "created_at", Value: 1}}, Options: expire,
		}); err != nil {
			return fmt.Errorf("failed to create session ttl index: %w", err)
		}
	}

	if _, err := s.categories.Indexes().CreateMany(ctx, categoryIndexes); err != nil {
		return fmt.Errorf("failed to create category indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateSession(ctx context.Context, sessionID, dispatchToken string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := s.sessions.InsertOne(ctx, models.Session{
		ID:            sessionID,
		DispatchToken: dispatchToken,
		CreatedAt:     s.now().UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *MongoStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var sess models.Session
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return &sess, nil
}

func (s *MongoStore) PutCategory(ctx context.Context, record models.CategoryRecord) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	doc := categoryDocument{
		ID:            categoryDocID(record.SessionID, record.Category),
		SessionID:     record.SessionID,
		Category:      string(record.Category),
		BidToken:      record.BidToken,
		ContractValue: record.ContractValue,
		BidAt:         record.BidAt,
		CreatedAt:     s.now().UTC(),
	}
	if record.HasBid() {
		p := string(record.Payload)
		doc.Payload = &p
	}

	_, err := s.categories.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store category record: %w", err)
	}
	return nil
}

func (s *MongoStore) GetCategory(ctx context.Context, sessionID string, category models.Category) (*models.CategoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc categoryDocument
	err := s.categories.FindOne(ctx, bson.M{"_id": categoryDocID(sessionID, category)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read category record: %w", err)
	}
	rec := doc.record()
	return &rec, nil
}

func (s *MongoStore) SetBid(ctx context.Context, sessionID string, category models.Category, payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	id := categoryDocID(sessionID, category)
	res, err := s.categories.UpdateOne(ctx,
		bson.M{"_id": id, "payload": nil},
		bson.M{"$set": bson.M{"payload": string(payload), "bid_at": s.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to record bid: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.categories.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check category record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrAlreadyBid
}

func (s *MongoStore) ListCategories(ctx context.Context, sessionID string) ([]models.CategoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	cur, err := s.categories.Find(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer cur.Close(ctx)

	var docs []categoryDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}

	out := make([]models.CategoryRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	sortRecords(out)
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.sessions.Database().Client().Ping(ctx, nil)
}
