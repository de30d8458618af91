package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/playrhq/messaging-service/internal/models"
)

// MongoRepository implements ConversationRepository and MessageRepository on
// two collections. Uniqueness (one conversation per pair, one message per
// idempotency key) is enforced by unique indexes, and both create paths are
// $setOnInsert upserts so concurrent callers converge on a single row.
type MongoRepository struct {
	convs *mongo.Collection
	msgs  *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		convs: db.Collection("conversations"),
		msgs:  db.Collection("messages"),
	}
}

// EnsureIndexes creates the unique and covering indexes the repository relies
// on. Safe to call at every startup.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.convs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("pair_key_uniq"),
		},
		{
			Keys:    bson.D{{Key: "participant_a", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participant_a_activity"),
		},
		{
			Keys:    bson.D{{Key: "participant_b", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participant_b_activity"),
		},
	})
	if err != nil {
		return err
	}
	_, err = r.msgs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "sender_id", Value: 1},
				{Key: "idempotency_key", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idempotency_uniq"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("conversation_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "recipient_id", Value: 1}, {Key: "read_at", Value: 1}},
			Options: options.Index().SetName("recipient_unread_idx"),
		},
	})
	return err
}

func (r *MongoRepository) GetOrCreate(ctx context.Context, userA, userB string) (*models.Conversation, bool, error) {
	lo, hi := models.NormalizePair(userA, userB)
	now := time.Now().UTC()
	candidate := &models.Conversation{
		ID:           uuid.NewString(),
		PairKey:      models.PairKey(userA, userB),
		ParticipantA: lo,
		ParticipantB: hi,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var conv models.Conversation
	err := r.convs.FindOneAndUpdate(ctx,
		bson.M{"pair_key": candidate.PairKey},
		bson.M{"$setOnInsert": candidate},
		opts,
	).Decode(&conv)
	if err != nil {
		// A concurrent upsert for the same pair can race the unique index;
		// the row exists now, so a plain fetch resolves it.
		if mongo.IsDuplicateKeyError(err) {
			err = r.convs.FindOne(ctx, bson.M{"pair_key": candidate.PairKey}).Decode(&conv)
			if err != nil {
				return nil, false, err
			}
			return &conv, false, nil
		}
		return nil, false, err
	}
	return &conv, conv.ID == candidate.ID, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.convs.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (r *MongoRepository) List(ctx context.Context, userID string, cursor time.Time, limit int64) ([]*models.Conversation, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"participant_a": userID},
		bson.M{"participant_b": userID},
	}}
	if !cursor.IsZero() {
		filter["updated_at"] = bson.M{"$lt": cursor}
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}).SetLimit(limit)
	cur, err := r.convs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*models.Conversation{}
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (r *MongoRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.convs.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"updated_at": at.UTC()},
		"$inc": bson.M{"version": 1},
	})
	return err
}

func (r *MongoRepository) Append(ctx context.Context, m *models.Message) (*models.Message, bool, error) {
	filter := bson.M{
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"idempotency_key": m.IdempotencyKey,
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored models.Message
	err := r.msgs.FindOneAndUpdate(ctx, filter, bson.M{"$setOnInsert": m}, opts).Decode(&stored)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			err = r.msgs.FindOne(ctx, filter).Decode(&stored)
			if err != nil {
				return nil, false, err
			}
			return &stored, false, nil
		}
		return nil, false, err
	}
	return &stored, stored.ID == m.ID, nil
}

func (r *MongoRepository) History(ctx context.Context, conversationID string, before time.Time, limit int64) ([]*models.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)
	cur, err := r.msgs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*models.Message{}
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	// chronological order for the caller
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MongoRepository) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var m models.Message
	if err := r.msgs.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoRepository) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	res, err := r.msgs.UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"sender_id":       bson.M{"$ne": readerID},
			"read_at":         nil,
		},
		bson.M{"$set": bson.M{"read_at": at.UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	return r.msgs.CountDocuments(ctx, bson.M{"recipient_id": userID, "read_at": nil})
}

func (r *MongoRepository) CountUnreadInConversation(ctx context.Context, conversationID, userID string) (int64, error) {
	return r.msgs.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"recipient_id":    userID,
		"read_at":         nil,
	})
}
