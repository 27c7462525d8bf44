package mongo

import (
	"context"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"retrai.dev/retrai/runtime/agent/runhistory"
)

// NewStore is a convenience constructor mirroring New, returning the
// runhistory.Store interface directly so callers in cmd/retrai don't need
// to import this package's concrete type.
func NewStore(ctx context.Context, client *mongodriver.Client, database string) (runhistory.Store, error) {
	return New(Options{Client: client, Database: database})
}

var _ runhistory.Store = (*Store)(nil)
