// internal/app/system/indexes/plan.go
package indexes

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// TextWildcardField is the key that makes a text index cover every
// string-valued field of a document.
const TextWildcardField = "$**"

// CollectionPlan lists the indexes one collection should carry.
type CollectionPlan struct {
	Collection   string
	Ascending    []string // single-field ascending indexes, in declaration order
	TextWildcard bool
}

// Plan is the fixed index layout of the identity database. Order matters:
// collections are processed top to bottom and a failure stops the run.
var Plan = []CollectionPlan{
	{Collection: "users", Ascending: []string{"email"}, TextWildcard: true},
	{Collection: "blacklists", Ascending: []string{"access_token"}, TextWildcard: true},
	{Collection: "user_groups", Ascending: []string{"creator_id"}, TextWildcard: true},
	{Collection: "memberships", Ascending: []string{"group_id", "user_id"}, TextWildcard: true},
	{Collection: "user_memberships", Ascending: []string{"membership_id", "user_id", "group_id"}, TextWildcard: true},
	{Collection: "group_memberships", Ascending: []string{"membership_id", "group_id", "user_id"}, TextWildcard: true},
}

// Models returns the index models for p. Names are left to the server so
// they match what the mongo shell generates (email_1, $**_text).
func (p CollectionPlan) Models() []mongo.IndexModel {
	models := make([]mongo.IndexModel, 0, len(p.Ascending)+1)
	for _, f := range p.Ascending {
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: f, Value: 1}}})
	}
	if p.TextWildcard {
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: TextWildcardField, Value: "text"}}})
	}
	return models
}

// Collections returns the collection names of plans in order.
func Collections(plans []CollectionPlan) []string {
	names := make([]string, 0, len(plans))
	for _, p := range plans {
		names = append(names, p.Collection)
	}
	return names
}
