package db

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hospital/models"
)

// LoadPatientCases fetches the patient roster. A zero limit loads everything.
func LoadPatientCases(ctx context.Context, limit int) ([]models.PatientCase, error) {
	collection := GetCollection("patients")

	opts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var cases []models.PatientCase
	if err := cursor.All(ctx, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// InsertConsultationRecord stores a finished consultation record.
func InsertConsultationRecord(ctx context.Context, rec *models.ConsultationRecord) error {
	collection := GetCollection("consultations")

	// Retry transient failures
	var lastErr error
	for i := 0; i < 3; i++ {
		_, err := collection.InsertOne(ctx, rec)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(time.Millisecond * 100 * time.Duration(i+1))
	}
	return lastErr
}

// CreateConsultationIndexes creates necessary indexes for performance
func CreateConsultationIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "run_id", Value: 1},
				{Key: "patient_id", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "patient_id", Value: 1},
				{Key: "time", Value: -1},
			},
		},
	}

	collection := GetCollection("consultations")
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Warnf("Failed to create indexes: %v", err)
	}
}
