package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/ds9/pkg/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func samplePR() cycletime.PullRequest {
	return cycletime.PullRequest{
		Number:    42,
		URL:       "https://github.com/acme/widgets/pull/42",
		CreatedAt: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		MergedAt:  time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		Author:    cycletime.Identity{Login: "octocat", ID: "1"},
		Commits:   []cycletime.Commit{{AuthoredAt: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}},
	}
}

func TestMemoryExpiry(t *testing.T) {
	clk := &clock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory()
	m.now = clk.now
	ctx := t.Context()

	_, ok := m.Get(ctx, "missing")
	assert.False(t, ok)

	m.Set(ctx, "pr", samplePR(), time.Hour)
	got, ok := m.Get(ctx, "pr")
	require.True(t, ok)
	assert.Equal(t, 42, got.Number)

	clk.t = clk.t.Add(time.Hour)
	_, ok = m.Get(ctx, "pr")
	assert.False(t, ok, "entries expire at their deadline")
	assert.Equal(t, 1, m.Len())

	m.Set(ctx, "fresh", samplePR(), 2*time.Hour)
	assert.Equal(t, 1, m.Prune())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()
	done := make(chan struct{})
	for i := range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			key := fmt.Sprintf("pr-%d", i)
			m.Set(ctx, key, samplePR(), time.Minute)
			m.Get(ctx, key)
			m.Prune()
		}()
	}
	for range 8 {
		<-done
	}
	assert.Equal(t, 8, m.Len())
}

// fakeStore keeps entities in a map the way Datastore would.
type fakeStore struct {
	entities map[string]record
	failPut  bool
}

func (f *fakeStore) Get(_ context.Context, key *datastore.Key, dst any) error {
	rec, ok := f.entities[key.Name]
	if !ok {
		return datastore.ErrNoSuchEntity
	}
	*dst.(*record) = rec
	return nil
}

func (f *fakeStore) Put(_ context.Context, key *datastore.Key, src any) (*datastore.Key, error) {
	if f.failPut {
		return nil, errors.New("unavailable")
	}
	f.entities[key.Name] = *src.(*record)
	return key, nil
}

func TestDatastoreRoundTrip(t *testing.T) {
	clk := &clock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := &fakeStore{entities: map[string]record{}}
	d := newDatastore(store, nil)
	d.now = clk.now
	ctx := t.Context()

	d.Set(ctx, "github:acme/widgets#42", samplePR(), 24*time.Hour)
	require.Contains(t, store.entities, "github:acme/widgets#42")

	got, ok := d.Get(ctx, "github:acme/widgets#42")
	require.True(t, ok)
	assert.Equal(t, samplePR().Author, got.Author)
	assert.True(t, got.MergedAt.Equal(samplePR().MergedAt))

	clk.t = clk.t.Add(25 * time.Hour)
	_, ok = d.Get(ctx, "github:acme/widgets#42")
	assert.False(t, ok)
}

func TestDatastoreFailuresAreMisses(t *testing.T) {
	store := &fakeStore{entities: map[string]record{"bad": {Data: "{", Expires: time.Now().Add(time.Hour)}}, failPut: true}
	d := newDatastore(store, nil)
	ctx := t.Context()

	_, ok := d.Get(ctx, "bad")
	assert.False(t, ok, "corrupt entries are misses")

	d.Set(ctx, "new", samplePR(), time.Hour)
	_, ok = d.Get(ctx, "new")
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	ctx := t.Context()

	c, err := Open(ctx, BackendNone, "", nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = Open(ctx, "", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	_, err = Open(ctx, BackendDatastore, "", nil)
	require.Error(t, err)

	_, err = Open(ctx, "redis", "", nil)
	require.Error(t, err)
}
