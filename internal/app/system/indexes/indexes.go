// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dalemusser/identityindex/internal/app/system/timeouts"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Steps of the per-collection sequence, used in StepError.
const (
	StepStats   = "stats"
	StepCreate  = "create index"
	StepList    = "list indexes"
	StepInspect = "inspect indexes"
)

// StepError reports which collection and step stopped the run.
type StepError struct {
	Collection string
	Step       string
	Keys       string // set for StepCreate
	Err        error
}

func (e *StepError) Error() string {
	if e.Keys != "" {
		return fmt.Sprintf("%s: %s {%s}: %v", e.Collection, e.Step, e.Keys, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Collection, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Options tune an Apply run.
type Options struct {
	// DryRun reads stats and index lists but sends no createIndexes.
	DryRun bool
}

/*
EnsureAll declares the identity indexes on db. Declarations are idempotent,
so it is safe to run on every deploy. The first failure stops the run; the
collections after it are left untouched.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	_, err := Apply(ctx, db, Plan, Options{})
	return err
}

// Apply runs plans against db in order and returns what it saw and did.
// On error the report holds every collection processed so far, including
// the partial one that failed.
func Apply(ctx context.Context, db *mongo.Database, plans []CollectionPlan, opts Options) (*Report, error) {
	rep := &Report{
		RunID:     uuid.NewString(),
		Database:  db.Name(),
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	defer func() { rep.FinishedAt = time.Now().UTC() }()

	zap.L().Info("applying index plan",
		zap.String("run_id", rep.RunID),
		zap.String("database", rep.Database),
		zap.Strings("collections", Collections(plans)),
		zap.Bool("dry_run", opts.DryRun))

	for _, p := range plans {
		if err := deadlineErr(ctx); err != nil {
			zap.L().Error("index plan aborted before collection",
				zap.String("run_id", rep.RunID),
				zap.String("collection", p.Collection),
				zap.Error(err))
			return rep, &StepError{Collection: p.Collection, Step: StepStats, Err: err}
		}
		cr, err := applyCollection(ctx, db.Collection(p.Collection), p, opts)
		rep.Collections = append(rep.Collections, cr)
		if err != nil {
			zap.L().Error("index plan aborted",
				zap.String("run_id", rep.RunID),
				zap.String("collection", p.Collection),
				zap.Error(err))
			return rep, err
		}
	}
	return rep, nil
}

// deadlineErr reports a canceled ctx or one whose deadline has already
// passed, even if its timer has not fired yet.
func deadlineErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return context.DeadlineExceeded
	}
	return nil
}

func applyCollection(ctx context.Context, coll *mongo.Collection, p CollectionPlan, opts Options) (CollectionReport, error) {
	cr := CollectionReport{Collection: coll.Name()}

	// 1) stats
	sctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), zap.L(), "collStats "+coll.Name())
	stats, err := CollectionStats(sctx, coll)
	cancel()
	if err != nil {
		return cr, &StepError{Collection: coll.Name(), Step: StepStats, Err: err}
	}
	cr.Stats = stats
	zap.L().Info("collection stats",
		zap.String("collection", coll.Name()),
		zap.Bool("exists", stats.Exists),
		zap.Int64("count", stats.Count),
		zap.Int64("size", stats.Size),
		zap.Int64("nindexes", stats.NIndexes),
		zap.Int64("total_index_size", stats.TotalIndexSize))

	// 2) + 3) single-field and wildcard text declarations
	decls, err := ensureIndexSet(ctx, coll, p.Models(), opts.DryRun)
	cr.Declarations = decls
	if err != nil {
		return cr, err
	}

	// 4) confirm
	lctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), zap.L(), "listIndexes "+coll.Name())
	list, err := ListIndexes(lctx, coll)
	cancel()
	if err != nil {
		return cr, &StepError{Collection: coll.Name(), Step: StepList, Err: err}
	}
	cr.Indexes = list
	names := make([]string, 0, len(list))
	for _, ix := range list {
		names = append(names, ix.Name)
	}
	zap.L().Info("collection indexes",
		zap.String("collection", coll.Name()),
		zap.Strings("indexes", names))

	return cr, nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name    string `bson:"name"`
	Key     bson.D `bson:"key"`
	Unique  *bool  `bson:"unique,omitempty"`
	Weights bson.D `bson:"weights,omitempty"`
}

func (ix existingIndex) info() IndexInfo {
	return IndexInfo{
		Name:    ix.Name,
		Keys:    ix.sig(),
		Text:    len(ix.Weights) > 0,
		Weights: weightFields(ix.Weights),
		Unique:  ix.Unique != nil && *ix.Unique,
	}
}

// sig is the key signature of a listed index. Text indexes are stored as
// {_fts: "text", _ftsx: 1} with the covered fields in weights, so the
// signature is rebuilt from weights to match the declared form.
func (ix existingIndex) sig() string {
	if len(ix.Weights) == 0 {
		return keySig(ix.Key)
	}
	var plain bson.D
	for _, kv := range ix.Key {
		if kv.Key == "_fts" || kv.Key == "_ftsx" {
			continue
		}
		if s, ok := kv.Value.(string); ok && s == "text" {
			continue
		}
		plain = append(plain, kv)
	}
	return joinSig(keySig(plain), textSig(weightFields(ix.Weights)))
}

// KeySig renders an index key document the way signatures are compared,
// e.g. "email:1" or "text($**)".
func KeySig(keys bson.D) string {
	var plain bson.D
	var text []string
	for _, kv := range keys {
		if s, ok := kv.Value.(string); ok && s == "text" {
			text = append(text, kv.Key)
			continue
		}
		plain = append(plain, kv)
	}
	if len(text) == 0 {
		return keySig(plain)
	}
	sort.Strings(text)
	return joinSig(keySig(plain), textSig(text))
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func textSig(fields []string) string {
	return "text(" + strings.Join(fields, ",") + ")"
}

func joinSig(plain, text string) string {
	if plain == "" {
		return text
	}
	return plain + ", " + text
}

func weightFields(w bson.D) []string {
	if len(w) == 0 {
		return nil
	}
	out := make([]string, 0, len(w))
	for _, kv := range w {
		out = append(out, kv.Key)
	}
	sort.Strings(out)
	return out
}

// Mongo returns IndexOptionsConflict (85) or IndexKeySpecsConflict (86) when
// an index with the same keys already exists under a different name or with
// different options.
func isOptionsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 85 || ce.Code == 86) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "IndexOptionsConflict") || strings.Contains(s, "IndexKeySpecsConflict")
}

func findBySig(existing []existingIndex, sig string) *existingIndex {
	for i := range existing {
		if existing[i].sig() == sig {
			return &existing[i]
		}
	}
	return nil
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel, dryRun bool) ([]Declaration, error) {
	lctx, cancel := timeouts.WithTimeout(ctx, timeouts.Short(), zap.L(), "listIndexes "+coll.Name())
	existing, err := listExisting(lctx, coll)
	cancel()
	if err != nil {
		return nil, &StepError{Collection: coll.Name(), Step: StepInspect, Err: err}
	}
	return reconcile(ctx, coll, existing, models, dryRun)
}

// reconcile declares models against the existing index list. existing may
// be stale; a create that conflicts with an index added since is resolved
// by re-listing.
func reconcile(ctx context.Context, coll *mongo.Collection, existing []existingIndex, models []mongo.IndexModel, dryRun bool) ([]Declaration, error) {
	decls := make([]Declaration, 0, len(models))

	for _, m := range models {
		desiredSig := KeySig(m.Keys.(bson.D))
		start := time.Now()

		zap.L().Info("ensuring index",
			zap.String("collection", coll.Name()),
			zap.String("keys", desiredSig))

		// Any index with the same key pattern satisfies the declaration,
		// whatever it is called.
		if ex := findBySig(existing, desiredSig); ex != nil {
			zap.L().Info("reusing existing index",
				zap.String("collection", coll.Name()),
				zap.String("name", ex.Name),
				zap.String("keys", desiredSig),
				zap.Bool("unique", ex.Unique != nil && *ex.Unique),
				zap.String("took", time.Since(start).String()))
			decls = append(decls, Declaration{Keys: desiredSig, Name: ex.Name, Outcome: OutcomeExists, TookMS: time.Since(start).Milliseconds()})
			continue
		}

		if dryRun {
			zap.L().Info("index would be created",
				zap.String("collection", coll.Name()),
				zap.String("keys", desiredSig))
			decls = append(decls, Declaration{Keys: desiredSig, Outcome: OutcomePlanned})
			continue
		}

		cctx, cancel := timeouts.WithTimeout(ctx, timeouts.Long(), zap.L(), "createIndex "+coll.Name()+" {"+desiredSig+"}")
		created, err := coll.Indexes().CreateOne(cctx, m)
		cancel()
		if err != nil {
			// Lost a race with another writer, or the server matched an index
			// our signature did not. Re-list and accept a same-key index.
			if isOptionsConflictErr(err) {
				rctx, rcancel := timeouts.WithTimeout(ctx, timeouts.Short(), zap.L(), "listIndexes "+coll.Name())
				again, e2 := listExisting(rctx, coll)
				rcancel()
				if e2 == nil {
					existing = again
					if ex := findBySig(existing, desiredSig); ex != nil {
						zap.L().Info("reusing existing index (post-conflict)",
							zap.String("collection", coll.Name()),
							zap.String("name", ex.Name),
							zap.String("keys", desiredSig),
							zap.String("took", time.Since(start).String()))
						decls = append(decls, Declaration{Keys: desiredSig, Name: ex.Name, Outcome: OutcomeExists, TookMS: time.Since(start).Milliseconds()})
						continue
					}
				}
			}

			zap.L().Warn("index ensure failed",
				zap.String("collection", coll.Name()),
				zap.String("keys", desiredSig),
				zap.String("took", time.Since(start).String()),
				zap.Error(err))
			return decls, &StepError{Collection: coll.Name(), Step: StepCreate, Keys: desiredSig, Err: err}
		}

		zap.L().Info("index ensured",
			zap.String("collection", coll.Name()),
			zap.String("created_name", created),
			zap.String("keys", desiredSig),
			zap.String("took", time.Since(start).String()))
		decls = append(decls, Declaration{Keys: desiredSig, Name: created, Outcome: OutcomeCreated, TookMS: time.Since(start).Milliseconds()})
		existing = append(existing, existingIndex{Name: created, Key: m.Keys.(bson.D), Weights: declaredWeights(m.Keys.(bson.D))})
	}

	return decls, nil
}

// declaredWeights mirrors how the server records text keys so a freshly
// created text index is matched by sig() within the same run.
func declaredWeights(keys bson.D) bson.D {
	var w bson.D
	for _, kv := range keys {
		if s, ok := kv.Value.(string); ok && s == "text" {
			w = append(w, bson.E{Key: kv.Key, Value: 1})
		}
	}
	return w
}
