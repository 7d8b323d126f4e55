package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/docstore"
	"github.com/xenking/kart-checkout/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by a document store.
type APIKeyRepository struct {
	store docstore.Store
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given store.
func NewAPIKeyRepository(store docstore.Store) *APIKeyRepository {
	return &APIKeyRepository{store: store}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	doc, err := r.store.Get(ctx, auth.Collection, hash)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	if !doc.Data.Bool("active") {
		return nil, auth.ErrKeyNotFound
	}

	info := &auth.APIKeyInfo{
		ID:      doc.Data.String("id"),
		KeyHash: doc.ID,
		Name:    doc.Data.String("name"),
		Active:  true,
	}
	for _, s := range doc.Data.Slice("scopes") {
		if scope, ok := s.(string); ok {
			info.Scopes = append(info.Scopes, scope)
		}
	}
	return info, nil
}

// Put stores info under its hash.
func (r *APIKeyRepository) Put(ctx context.Context, info auth.APIKeyInfo) error {
	scopes := make([]any, len(info.Scopes))
	for i, s := range info.Scopes {
		scopes[i] = s
	}
	err := r.store.Set(ctx, auth.Collection, info.KeyHash, docstore.Fields{
		"id":     info.ID,
		"name":   info.Name,
		"scopes": scopes,
		"active": info.Active,
	})
	if err != nil {
		return fmt.Errorf("putting api key %q: %w", info.ID, err)
	}
	return nil
}
