// Package testutil provides a throwaway MongoDB database for tests.
//
// Tests that need a server call SetupTestDB; when no server is reachable
// the test is skipped rather than failed, so `go test ./...` stays green on
// machines without Mongo. Point IDENTITYINDEX_TEST_MONGO_URI at a server to
// run them.
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultTestURI = "mongodb://localhost:27017"

// TestTimeout bounds a single test's database work.
const TestTimeout = 30 * time.Second

// TestURI returns the Mongo URI tests connect to.
func TestURI() string {
	if v := os.Getenv("IDENTITYINDEX_TEST_MONGO_URI"); v != "" {
		return v
	}
	return defaultTestURI
}

// TestContext returns a context bounded by TestTimeout.
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), TestTimeout)
}

// SetupTestDB connects to the test server and returns a fresh, empty
// database with a unique name. The database is dropped and the client
// disconnected when the test ends.
func SetupTestDB(t *testing.T) *mongo.Database {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(TestURI()).
		SetServerSelectionTimeout(2*time.Second))
	if err != nil {
		t.Skipf("mongo not available: %v", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("mongo not available: %v", err)
	}

	name := "identityindex_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	db := client.Database(name)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Drop(ctx); err != nil {
			t.Logf("drop test database %s: %v", name, err)
		}
		_ = client.Disconnect(ctx)
	})

	return db
}

// CollectionNames lists the collections that currently exist in db.
func CollectionNames(t *testing.T, ctx context.Context, db *mongo.Database) []string {
	t.Helper()
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		t.Fatalf("list collections: %v", err)
	}
	return names
}
