package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/ds9/pkg/datastore"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// Kind is the Datastore kind holding cached pull requests.
const Kind = "PullRequestCache"

// record is the stored entity. The pull request is kept as JSON so the schema
// can evolve without migrations.
type record struct {
	Data    string    `datastore:"data,noindex"`
	Expires time.Time `datastore:"expires"`
	Updated time.Time `datastore:"updated,noindex"`
}

// entityStore is the part of the Datastore client the cache uses.
type entityStore interface {
	Get(ctx context.Context, key *datastore.Key, dst any) error
	Put(ctx context.Context, key *datastore.Key, src any) (*datastore.Key, error)
}

// Datastore is a cycletime.Cache persisted in Google Cloud Datastore, shared
// by every process of a deployment. Failures are logged and treated as misses.
type Datastore struct {
	store  entityStore
	logger *slog.Logger
	now    func() time.Time
}

// NewDatastore connects to the Datastore of project.
func NewDatastore(ctx context.Context, project string, logger *slog.Logger) (*Datastore, error) {
	if project == "" {
		return nil, errors.New("datastore project is required")
	}
	client, err := datastore.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create datastore client: %w", err)
	}
	return newDatastore(client, logger), nil
}

func newDatastore(store entityStore, logger *slog.Logger) *Datastore {
	if logger == nil {
		logger = slog.Default()
	}
	return &Datastore{store: store, logger: logger, now: time.Now}
}

// Get returns the unexpired pull request stored under key.
func (d *Datastore) Get(ctx context.Context, key string) (cycletime.PullRequest, bool) {
	var rec record
	if err := d.store.Get(ctx, datastore.NameKey(Kind, key, nil), &rec); err != nil {
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			d.logger.WarnContext(ctx, "Datastore cache read failed", "key", key, "error", err)
		}
		return cycletime.PullRequest{}, false
	}
	if !d.now().Before(rec.Expires) {
		return cycletime.PullRequest{}, false
	}

	var pr cycletime.PullRequest
	if err := json.Unmarshal([]byte(rec.Data), &pr); err != nil {
		d.logger.WarnContext(ctx, "Datastore cache entry is corrupt", "key", key, "error", err)
		return cycletime.PullRequest{}, false
	}
	return pr, true
}

// Set stores pr under key for ttl.
func (d *Datastore) Set(ctx context.Context, key string, pr cycletime.PullRequest, ttl time.Duration) {
	data, err := json.Marshal(pr)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to encode cache entry", "key", key, "error", err)
		return
	}
	now := d.now()
	rec := &record{Data: string(data), Expires: now.Add(ttl), Updated: now}
	if _, err := d.store.Put(ctx, datastore.NameKey(Kind, key, nil), rec); err != nil {
		d.logger.WarnContext(ctx, "Datastore cache write failed", "key", key, "error", err)
	}
}
