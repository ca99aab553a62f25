package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"vpnbot/internal/config"
)

const (
	collectionWebhooks    = "webhook_events"
	collectionRedemptions = "invite_redemptions"
	collectionPayments    = "payments_archive"
)

// MongoDB is an optional write-mostly archive for payloads worth keeping
// outside the relational schema: raw webhook bodies and invite redemption
// records. Connections are opened per call; the archive is low traffic.
type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) *MongoDB {
	if !conf.Mongo.Enabled {
		return nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

// SaveWebhookEvent archives a raw provider webhook body before any
// processing, so disputed payments can be replayed from source.
func (m *MongoDB) SaveWebhookEvent(provider, eventId string, payload []byte) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionWebhooks)
	doc := bson.D{
		{Key: "provider", Value: provider},
		{Key: "event_id", Value: eventId},
		{Key: "payload", Value: string(payload)},
		{Key: "received_at", Value: time.Now().UTC()},
	}
	_, err = collection.InsertOne(m.ctx, doc)
	return err
}

// SaveRedemption records a successful invite redemption for the audit trail.
func (m *MongoDB) SaveRedemption(code string, redeemerId int64, usedCount int) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionRedemptions)
	doc := bson.D{
		{Key: "code", Value: code},
		{Key: "redeemer_id", Value: redeemerId},
		{Key: "used_count", Value: usedCount},
		{Key: "redeemed_at", Value: time.Now().UTC()},
	}
	_, err = collection.InsertOne(m.ctx, doc)
	return err
}

// SavePayment upserts a completed payment snapshot keyed by the provider's
// payment id, so repeated webhook deliveries overwrite instead of duplicate.
func (m *MongoDB) SavePayment(providerPaymentId string, payment interface{}) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionPayments)
	filter := bson.D{{Key: "provider_payment_id", Value: providerPaymentId}}
	update := bson.D{{Key: "$set", Value: payment}}
	opts := options.Update().SetUpsert(true)
	_, err = collection.UpdateOne(m.ctx, filter, update, opts)
	return err
}
