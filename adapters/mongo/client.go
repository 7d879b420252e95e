package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	defaultDatabase = "speechgate"
	connectTimeout  = 10 * time.Second
)

// Client is a connected transcript database
type Client struct {
	*mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient dials uri and fails unless the primary answers a ping
func NewClient(ctx context.Context, uri, dbName string, logger *zap.Logger) (*Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("MongoDB URI is required")
	}
	if dbName == "" {
		dbName = defaultDatabase
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetAppName("speechgate").
		SetMaxPoolSize(20).
		SetMaxConnIdleTime(5*time.Minute).
		SetServerSelectionTimeout(5*time.Second).
		SetRetryWrites(true))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	logger.Info("Transcript store connected", zap.String("store", "mongo"), zap.String("database", dbName))
	return &Client{Client: client, Database: client.Database(dbName), logger: logger}, nil
}

// Close disconnects, waiting at most until ctx expires
func (c *Client) Close(ctx context.Context) error {
	if err := c.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	c.logger.Info("Transcript store disconnected", zap.String("store", "mongo"))
	return nil
}
