package conversation

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/aigate/llm"
)

// fakeCollection answers Find by applying the user/feature filter and a
// newest-first order over inserted documents.
type fakeCollection struct {
	mu   sync.Mutex
	docs []mongoTurn
}

func (f *fakeCollection) InsertOne(_ context.Context, document any, _ ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := document.(mongoTurn)
	doc.ID = bson.NewObjectID()
	f.docs = append(f.docs, doc)
	return &mongo.InsertOneResult{InsertedID: doc.ID}, nil
}

func (f *fakeCollection) Find(_ context.Context, filter any, _ ...options.Lister[options.FindOptions]) (*mongo.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]any{}
	for _, e := range filter.(bson.D) {
		want[e.Key] = e.Value
	}
	var matched []mongoTurn
	for _, d := range f.docs {
		if d.UserID == want["user_id"] && d.Feature == want["feature"] {
			matched = append(matched, d)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	docs := make([]any, len(matched))
	for i, d := range matched {
		docs[i] = d
	}
	return mongo.NewCursorFromDocuments(docs, nil, nil)
}

func TestMongoStore_AppendAndRecent(t *testing.T) {
	coll := &fakeCollection{}
	s := &MongoStore{coll: coll}
	seed(t, s, llm.FeatureCompanion, 3)
	seed(t, s, llm.FeatureClarity, 1)

	entries, err := s.Recent(context.Background(), "user-1", llm.FeatureCompanion, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "question 0", entries[0].Prompt)
	assert.Equal(t, "question 2", entries[2].Prompt)
	assert.Equal(t, []string{"topic-0"}, entries[2].Topics)
	assert.Equal(t, map[string]string{"step": "2"}, entries[2].Status)
	assert.True(t, entries[2].CreatedAt.Equal(now.Add(-time.Minute)))

	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close(context.Background()))
}

func TestNewMongoStore_RequiresURI(t *testing.T) {
	_, err := NewMongoStore(context.Background(), MongoConfig{})
	assert.Error(t, err)
}
