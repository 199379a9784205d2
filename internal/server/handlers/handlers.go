// Package handlers implements the HTTP API endpoints.
package handlers

import (
	"context"
	"errors"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/storage"
)

// Stores resolves the store of an organization.
type Stores interface {
	Get(ctx context.Context, orgID string) (storage.Store, error)
}

// storeFor returns the store of the organization attached to ctx.
func storeFor(ctx context.Context, stores Stores) (storage.Store, error) {
	s, err := stores.Get(ctx, models.GetOrgID(ctx))
	if err != nil {
		return nil, models.Unavailable("open store", err)
	}
	return s, nil
}

// storeError keeps errors that already carry an HTTP status and reports the
// rest as an unavailable store.
func storeError(op string, err error) error {
	var ews models.ErrorWithStatus
	if errors.As(err, &ews) {
		return err
	}
	return models.Unavailable(op, err)
}
