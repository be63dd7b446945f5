package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tywin1104/crew-gatekeeper/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const submissionsCollection = "submissions"

// Service represents struct that deals with database level operations
type Service struct {
	db       *mongo.Client
	database string
}

// NewService create new mongoDb service that handles database level operations
func NewService(db *mongo.Client, database string) *Service {
	return &Service{
		db:       db,
		database: database,
	}
}

func (s *Service) collection() *mongo.Collection {
	return s.db.Database(s.database).Collection(submissionsCollection)
}

// Ping checks for db connection
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique partial index that allows a single pending
// submission per applicant
func (s *Service) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "applicant.id", Value: 1}},
		Options: options.Index().
			SetName("one_pending_per_applicant").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": types.StatusPending}),
	})
	if err != nil {
		return fmt.Errorf("create submissions index: %w", err)
	}
	return nil
}

// CreateSubmission inserts a new pending submission
func (s *Service) CreateSubmission(ctx context.Context, sub types.Submission) error {
	sub.Status = types.StatusPending
	_, err := s.collection().InsertOne(ctx, sub)
	if mongo.IsDuplicateKeyError(err) {
		return ErrPendingExists
	}
	return err
}

// GetSubmission finds one submission by id
func (s *Service) GetSubmission(ctx context.Context, id string) (types.Submission, error) {
	var sub types.Submission
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.Submission{}, ErrNotFound
	}
	if err != nil {
		return types.Submission{}, err
	}
	return sub, nil
}

// GetSubmissions query for submissions in db, newest first
func (s *Service) GetSubmissions(ctx context.Context, status string) ([]types.Submission, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	cur, err := s.collection().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, err
	}
	submissions := make([]types.Submission, 0)
	if err := cur.All(ctx, &submissions); err != nil {
		return nil, err
	}
	return submissions, nil
}

// AttachMessage records the outbound notification of a submission
func (s *Service) AttachMessage(ctx context.Context, id string, ref types.MessageRef) error {
	result, err := s.collection().UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"message": ref},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve moves a pending submission to its final status. The filter on the
// pending status makes concurrent decisions on the same submission race-free.
func (s *Service) Resolve(ctx context.Context, id, status, staff string, at time.Time) (types.Submission, bool, error) {
	var updated types.Submission
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": types.StatusPending},
		bson.M{"$set": bson.M{
			"status":           status,
			"staff":            staff,
			"decidedTimestamp": at,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return types.Submission{}, false, err
	}
	// Either unknown or already decided
	existing, err := s.GetSubmission(ctx, id)
	if err != nil {
		return types.Submission{}, false, err
	}
	return existing, false, nil
}

// Reopen moves a submission in status back to pending. The unique pending
// index rejects it when the applicant submitted again in the meantime.
func (s *Service) Reopen(ctx context.Context, id, status string) error {
	result, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": id, "status": status},
		bson.M{
			"$set":   bson.M{"status": types.StatusPending},
			"$unset": bson.M{"staff": "", "decidedTimestamp": ""},
		},
	)
	if mongo.IsDuplicateKeyError(err) {
		return ErrPendingExists
	}
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSubmission removes a submission
func (s *Service) DeleteSubmission(ctx context.Context, id string) error {
	result, err := s.collection().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
