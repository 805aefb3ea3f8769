package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config holds MongoDB connection configuration
type Config struct {
	URI      string
	Database string
}

// Client wraps a mongo client with lifecycle helpers.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *slog.Logger
}

// NewClient creates a new MongoDB client and verifies connectivity
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logger.Info("connected to mongo", slog.String("database", cfg.Database))

	return &Client{
		client:   client,
		database: client.Database(cfg.Database),
		logger:   logger,
	}, nil
}

// Collection returns a handle to the named collection.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.database.Collection(name)
}

// Ping verifies the connection is still alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from the server.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing mongo connection")
	return c.client.Disconnect(ctx)
}
