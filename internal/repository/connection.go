package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	dialTimeout         = 10 * time.Second
	serverSelectTimeout = 5 * time.Second
	maxPoolSize         = 100
	minPoolSize         = 10
)

// ConnectMongoDB dials the cart database and verifies the connection before
// handing it out. Pool sizing is fixed: the service is the only tenant of
// this database.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(dialTimeout).
		SetServerSelectionTimeout(serverSelectTimeout).
		SetMaxPoolSize(maxPoolSize).
		SetMinPoolSize(minPoolSize)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to dial cart database: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("cart database unreachable: %w", err)
	}

	return client.Database(database), nil
}
