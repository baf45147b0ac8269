package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// Backends understood by Open.
const (
	BackendNone      = "none"
	BackendMemory    = "memory"
	BackendDatastore = "datastore"
)

// Open returns the cache for backend. The none backend returns nil, which
// adapters treat as caching disabled.
func Open(ctx context.Context, backend, project string, logger *slog.Logger) (cycletime.Cache, error) {
	switch backend {
	case BackendNone:
		return nil, nil
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendDatastore:
		d, err := NewDatastore(ctx, project, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
