package storage

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type fakeCursor struct {
	docs []alertDocument
}

func (c *fakeCursor) All(_ context.Context, results interface{}) error {
	out, ok := results.(*[]alertDocument)
	if !ok {
		return errors.New("unexpected results type")
	}
	*out = c.docs
	return nil
}

func (c *fakeCursor) Close(context.Context) error { return nil }

// fakeCollection emulates the server-side sort and limit of Find.
type fakeCollection struct {
	docs      []alertDocument
	insertErr error
	findErr   error
	lastOpts  *options.FindOptions
}

func (f *fakeCollection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.docs = append(f.docs, document.(alertDocument))
	return &mongo.InsertOneResult{}, nil
}

func (f *fakeCollection) Find(_ context.Context, _ interface{}, opts ...*options.FindOptions) (AlertCursor, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.lastOpts = opts[0]
	docs := append([]alertDocument(nil), f.docs...)
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	if f.lastOpts.Limit != nil && int(*f.lastOpts.Limit) < len(docs) {
		docs = docs[:*f.lastOpts.Limit]
	}
	return &fakeCursor{docs: docs}, nil
}

func TestMongoAlertStoreRecentNewestFirst(t *testing.T) {
	coll := &fakeCollection{}
	store := newMongoAlertStore(coll, zap.NewNop().Sugar())

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, store.InsertAlert(ctx, &core.Alert{ID: string(rune('A' + i%26)), Severity: core.SeverityInfo}))
	}

	alerts, err := store.RecentAlerts(ctx, DefaultRecentLimit)
	require.NoError(t, err)
	assert.Len(t, alerts, 50)

	require.NotNil(t, coll.lastOpts.Sort)
	assert.Equal(t, bson.D{{Key: "created_at", Value: -1}}, coll.lastOpts.Sort)
	assert.Equal(t, int64(50), *coll.lastOpts.Limit)

	// the 60th insert is the newest
	assert.Equal(t, coll.docs[59].ID, alerts[0].ID)
}

func TestMongoAlertStoreDefaultsLimit(t *testing.T) {
	coll := &fakeCollection{}
	store := newMongoAlertStore(coll, zap.NewNop().Sugar())

	_, err := store.RecentAlerts(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultRecentLimit), *coll.lastOpts.Limit)
}

func TestMongoAlertStoreErrors(t *testing.T) {
	coll := &fakeCollection{insertErr: errors.New("no primary"), findErr: errors.New("no primary")}
	store := newMongoAlertStore(coll, zap.NewNop().Sugar())

	err := store.InsertAlert(context.Background(), &core.Alert{ID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a1")

	_, err = store.RecentAlerts(context.Background(), 10)
	assert.Error(t, err)
	assert.Equal(t, "mongodb", store.Name())
}
