package idempotency

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise the
// file-backed default.
func NewStore(ctx context.Context, databaseURL, dataDir string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewFileStore(dataDir)
	}
	return NewPostgresStore(ctx, databaseURL)
}
