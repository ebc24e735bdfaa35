package indexes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestPlan_OrderAndFields(t *testing.T) {
	assert.Equal(t, []string{
		"users",
		"blacklists",
		"user_groups",
		"memberships",
		"user_memberships",
		"group_memberships",
	}, Collections(Plan))

	fields := map[string][]string{}
	for _, p := range Plan {
		fields[p.Collection] = p.Ascending
		assert.True(t, p.TextWildcard, "%s should get a wildcard text index", p.Collection)
	}
	assert.Equal(t, []string{"email"}, fields["users"])
	assert.Equal(t, []string{"access_token"}, fields["blacklists"])
	assert.Equal(t, []string{"creator_id"}, fields["user_groups"])
	assert.Equal(t, []string{"group_id", "user_id"}, fields["memberships"])
	assert.Equal(t, []string{"membership_id", "user_id", "group_id"}, fields["user_memberships"])
	assert.Equal(t, []string{"membership_id", "group_id", "user_id"}, fields["group_memberships"])
}

func TestCollectionPlan_Models(t *testing.T) {
	p := CollectionPlan{Collection: "memberships", Ascending: []string{"group_id", "user_id"}, TextWildcard: true}
	models := p.Models()
	require.Len(t, models, 3)

	assert.Equal(t, bson.D{{Key: "group_id", Value: 1}}, models[0].Keys)
	assert.Equal(t, bson.D{{Key: "user_id", Value: 1}}, models[1].Keys)
	assert.Equal(t, bson.D{{Key: "$**", Value: "text"}}, models[2].Keys)
	for _, m := range models {
		assert.Nil(t, m.Options, "names are left to the server")
	}

	noText := CollectionPlan{Collection: "x", Ascending: []string{"a"}}
	assert.Len(t, noText.Models(), 1)
}

func TestKeySig(t *testing.T) {
	assert.Equal(t, "email:1", KeySig(bson.D{{Key: "email", Value: 1}}))
	assert.Equal(t, "text($**)", KeySig(bson.D{{Key: "$**", Value: "text"}}))
	assert.Equal(t, "org:1, text(name,title)", KeySig(bson.D{
		{Key: "org", Value: 1},
		{Key: "title", Value: "text"},
		{Key: "name", Value: "text"},
	}))
}

func TestExistingIndexSig_MatchesDeclared(t *testing.T) {
	// As returned by listIndexes for {"$**": "text"}.
	listed := existingIndex{
		Name:    "$**_text",
		Key:     bson.D{{Key: "_fts", Value: "text"}, {Key: "_ftsx", Value: int32(1)}},
		Weights: bson.D{{Key: "$**", Value: int32(1)}},
	}
	assert.Equal(t, KeySig(bson.D{{Key: "$**", Value: "text"}}), listed.sig())

	info := listed.info()
	assert.True(t, info.Text)
	assert.Equal(t, []string{"$**"}, info.Weights)
	assert.False(t, info.Unique)

	// A text index on a single field must not satisfy the wildcard one.
	other := existingIndex{
		Name:    "name_text",
		Key:     bson.D{{Key: "_fts", Value: "text"}, {Key: "_ftsx", Value: int32(1)}},
		Weights: bson.D{{Key: "name", Value: int32(1)}},
	}
	assert.NotEqual(t, listed.sig(), other.sig())

	// Ascending keys stored as doubles (mongo shell) still match.
	shell := existingIndex{Name: "email_1", Key: bson.D{{Key: "email", Value: float64(1)}}}
	assert.Equal(t, "email:1", shell.sig())
}

func TestExistingIndexSig_FreshlyCreatedText(t *testing.T) {
	keys := bson.D{{Key: "$**", Value: "text"}}
	fresh := existingIndex{Name: "$**_text", Key: keys, Weights: declaredWeights(keys)}
	assert.Equal(t, "text($**)", fresh.sig())
	assert.NotNil(t, findBySig([]existingIndex{fresh}, "text($**)"))
	assert.Nil(t, findBySig([]existingIndex{fresh}, "email:1"))
}

func TestIsOptionsConflictErr(t *testing.T) {
	assert.False(t, isOptionsConflictErr(nil))
	assert.True(t, isOptionsConflictErr(mongo.CommandError{Code: 85, Name: "IndexOptionsConflict"}))
	assert.True(t, isOptionsConflictErr(mongo.CommandError{Code: 86, Name: "IndexKeySpecsConflict"}))
	assert.False(t, isOptionsConflictErr(mongo.CommandError{Code: 13, Name: "Unauthorized"}))
	assert.True(t, isOptionsConflictErr(errors.New("(IndexOptionsConflict) index already exists")))
}

func TestStepError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&StepError{Collection: "users", Step: StepCreate, Keys: "email:1", Err: cause})
	assert.Equal(t, "users: create index {email:1}: boom", err.Error())
	assert.ErrorIs(t, err, cause)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "users", se.Collection)

	assert.Equal(t, "blacklists: stats: boom", (&StepError{Collection: "blacklists", Step: StepStats, Err: cause}).Error())
}
