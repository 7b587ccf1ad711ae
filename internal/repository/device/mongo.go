package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aliskhannn/pixmix-relay/internal/model"
)

const userTokensCollection = "user_tokens"

// MongoRepository stores one document per user in the user_tokens collection.
type MongoRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// ConnectMongo connects to uri and verifies the deployment is reachable.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client, nil
}

// NewMongoRepository creates a MongoRepository on database db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(userTokensCollection), now: time.Now}
}

// Migrate ensures the unique index on userId.
func (r *MongoRepository) Migrate(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("migrate: failed to create userId index: %w", err)
	}

	return nil
}

// Upsert merges reg into the user's document.
func (r *MongoRepository) Upsert(ctx context.Context, reg model.DeviceRegistration) error {
	if err := validate(reg); err != nil {
		return err
	}

	set := bson.M{
		"fcmToken":    reg.DeviceToken,
		"lastUpdated": r.now().UTC(),
	}
	update := bson.M{"$set": set}
	if reg.Platform != "" {
		set["platform"] = string(reg.Platform)
	} else {
		update["$setOnInsert"] = bson.M{"platform": string(model.PlatformIOS)}
	}

	_, err := r.coll.UpdateOne(ctx, bson.M{"userId": reg.UserID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert: failed to save device token: %w", err)
	}

	return nil
}

// Get returns the registration for userID or ErrDeviceNotFound.
func (r *MongoRepository) Get(ctx context.Context, userID string) (model.DeviceRegistration, error) {
	var reg model.DeviceRegistration
	if err := r.coll.FindOne(ctx, bson.M{"userId": userID}).Decode(&reg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.DeviceRegistration{}, ErrDeviceNotFound
		}

		return model.DeviceRegistration{}, fmt.Errorf("get: failed to get device token: %w", err)
	}

	return reg, nil
}

// Lookup returns the device token for userID. found is false when none is registered.
func (r *MongoRepository) Lookup(ctx context.Context, userID string) (string, bool, error) {
	return lookupVia(ctx, r.Get, userID)
}

// Remove deletes the user's document. Removing an absent user is not an error.
func (r *MongoRepository) Remove(ctx context.Context, userID string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"userId": userID}); err != nil {
		return fmt.Errorf("delete: failed to delete device token: %w", err)
	}

	return nil
}
