// internal/app/system/indexes/report.go
package indexes

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Outcome of one index declaration.
const (
	OutcomeCreated = "created"
	OutcomeExists  = "exists"
	OutcomePlanned = "planned" // dry run: would be created
)

// Report is the result of one Apply run.
type Report struct {
	RunID       string             `json:"run_id"`
	Database    string             `json:"database"`
	DryRun      bool               `json:"dry_run"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Collections []CollectionReport `json:"collections"`
}

// CollectionReport records the four steps for one collection.
type CollectionReport struct {
	Collection   string        `json:"collection"`
	Stats        Stats         `json:"stats"`
	Declarations []Declaration `json:"declarations"`
	Indexes      []IndexInfo   `json:"indexes"`
}

// Declaration is one requested index and what happened to it.
type Declaration struct {
	Keys    string `json:"keys"`
	Name    string `json:"name,omitempty"`
	Outcome string `json:"outcome"`
	TookMS  int64  `json:"took_ms"`
}

// Stats is the subset of $collStats storage statistics we report.
type Stats struct {
	Exists         bool    `json:"exists"`
	Count          int64   `json:"count"`
	Size           int64   `json:"size"`
	StorageSize    int64   `json:"storage_size"`
	AvgObjSize     float64 `json:"avg_obj_size"`
	NIndexes       int64   `json:"nindexes"`
	TotalIndexSize int64   `json:"total_index_size"`
}

// IndexInfo describes one index as listed by the server.
type IndexInfo struct {
	Name    string   `json:"name"`
	Keys    string   `json:"keys"`
	Text    bool     `json:"text"`
	Weights []string `json:"weights,omitempty"`
	Unique  bool     `json:"unique"`
}

// HasIndex reports whether the collection report lists an index with the
// given key signature.
func (r CollectionReport) HasIndex(keys string) bool {
	for _, ix := range r.Indexes {
		if ix.Keys == keys {
			return true
		}
	}
	return false
}

type collStatsDoc struct {
	StorageStats struct {
		Count          int64   `bson:"count"`
		Size           int64   `bson:"size"`
		StorageSize    int64   `bson:"storageSize"`
		AvgObjSize     float64 `bson:"avgObjSize"`
		NIndexes       int64   `bson:"nindexes"`
		TotalIndexSize int64   `bson:"totalIndexSize"`
	} `bson:"storageStats"`
}

// CollectionStats reads storage statistics for coll. It never creates the
// collection; a missing collection yields Stats{Exists: false}.
//
// $collStats returns one document per shard on a sharded cluster. Sizes and
// counts are summed across them, NIndexes is the largest per-shard value,
// and AvgObjSize is recomputed from the totals.
func CollectionStats(ctx context.Context, coll *mongo.Collection) (Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$collStats", Value: bson.D{{Key: "storageStats", Value: bson.D{}}}}},
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		if isNamespaceNotFound(err) {
			return Stats{}, nil
		}
		return Stats{}, err
	}
	defer cur.Close(ctx)

	var docs []collStatsDoc
	for cur.Next(ctx) {
		var doc collStatsDoc
		if err := cur.Decode(&doc); err != nil {
			return Stats{}, err
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return Stats{}, err
	}
	return sumStats(docs), nil
}

func sumStats(docs []collStatsDoc) Stats {
	if len(docs) == 0 {
		return Stats{}
	}
	out := Stats{Exists: true}
	for _, d := range docs {
		s := d.StorageStats
		out.Count += s.Count
		out.Size += s.Size
		out.StorageSize += s.StorageSize
		out.TotalIndexSize += s.TotalIndexSize
		if s.NIndexes > out.NIndexes {
			out.NIndexes = s.NIndexes
		}
	}
	if len(docs) == 1 {
		out.AvgObjSize = docs[0].StorageStats.AvgObjSize
	} else if out.Count > 0 {
		out.AvgObjSize = float64(out.Size) / float64(out.Count)
	}
	return out
}

// ListIndexes returns the indexes on coll in server order.
func ListIndexes(ctx context.Context, coll *mongo.Collection) ([]IndexInfo, error) {
	existing, err := listExisting(ctx, coll)
	if err != nil {
		return nil, err
	}
	out := make([]IndexInfo, 0, len(existing))
	for _, ex := range existing {
		out = append(out, ex.info())
	}
	return out, nil
}

func listExisting(ctx context.Context, coll *mongo.Collection) ([]existingIndex, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []existingIndex
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, cur.Err()
}

// NamespaceNotFound (26) is what $collStats returns for a missing collection.
func isNamespaceNotFound(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == 26 || ce.Name == "NamespaceNotFound"
	}
	return false
}
