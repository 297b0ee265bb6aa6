package repository

import (
	"context"
	"encoding/json"

	"github.com/ipede/uma-auth-service/internal/domain"
	"go.uber.org/zap"
)

const clientKeyPrefix = "client:"

// ClientRepository persists registered clients through the entry store, so
// client records follow the same backend as the rest of the server state
type ClientRepository struct {
	store  domain.EntryStore
	logger *zap.Logger
}

// NewClientRepository creates a client repository
func NewClientRepository(store domain.EntryStore, logger *zap.Logger) *ClientRepository {
	return &ClientRepository{store: store, logger: logger}
}

// Save registers or replaces a client record
func (r *ClientRepository) Save(ctx context.Context, client *domain.Client) error {
	raw, err := json.Marshal(client)
	if err != nil {
		return domain.ErrInternal
	}
	if err := r.store.Put(ctx, clientKeyPrefix+client.ID, raw, 0); err != nil {
		r.logger.Error("Failed to store client", zap.String("client_id", client.ID), zap.Error(err))
		return domain.ErrInternal
	}
	return nil
}

// FindClientByID finds a registered client by ID
func (r *ClientRepository) FindClientByID(ctx context.Context, id string) (*domain.Client, error) {
	raw, err := r.store.Get(ctx, clientKeyPrefix+id)
	if err != nil {
		return nil, domain.ErrInvalidClient
	}
	client := &domain.Client{}
	if err := json.Unmarshal(raw, client); err != nil {
		return nil, domain.ErrInternal
	}
	return client, nil
}
