package integration

import (
	"context"
	"testing"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/database"
	"github.com/ipede/uma-auth-service/internal/infrastructure/registry"
	"github.com/ipede/uma-auth-service/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGrantRegistry_Integration(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	container, cfg := setupTestContainerWithMigrations(t)
	defer container.Terminate(ctx)

	db, err := database.NewPostgres(ctx, cfg, logger)
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewPostgresStore(db, logger)
	grants := registry.New(store, logger, registry.WithCodeTTL(10*time.Minute))

	t.Run("token index survives the roundtrip", func(t *testing.T) {
		grant := &domain.Grant{
			ID:        "pg-g1",
			Type:      domain.GrantTypeClientCredentials,
			ClientID:  "client-1",
			Scopes:    []string{"orders:read"},
			State:     domain.GrantStateActive,
			CreatedAt: time.Now(),
		}
		require.NoError(t, grants.Register(ctx, grant))
		require.NoError(t, grants.IndexToken(ctx, &domain.Token{
			Value:       "pg-access-1",
			Kind:        domain.TokenKindAccess,
			ReferenceID: "ref-1",
			GrantID:     grant.ID,
			CreatedAt:   time.Now(),
			ExpiresAt:   time.Now().Add(time.Hour),
		}))

		token, got, err := grants.LookupByToken(ctx, "pg-access-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TokenKindAccess, token.Kind)
		assert.Equal(t, "pg-g1", got.ID)
		assert.Equal(t, []string{"orders:read"}, got.Scopes)
	})

	t.Run("authorization code redeems exactly once", func(t *testing.T) {
		grant := &domain.Grant{
			ID:        "pg-g2",
			Type:      domain.GrantTypeAuthorizationCode,
			ClientID:  "client-1",
			UserID:    "user-1",
			Scopes:    []string{"openid"},
			State:     domain.GrantStateActive,
			CreatedAt: time.Now(),
			Code:      "pg-code-1",
		}
		require.NoError(t, grants.Register(ctx, grant))

		consumed, err := grants.ConsumeAuthorizationCode(ctx, "pg-code-1")
		require.NoError(t, err)
		assert.Equal(t, domain.GrantStateConsumed, consumed.State)

		_, err = grants.ConsumeAuthorizationCode(ctx, "pg-code-1")
		assert.ErrorIs(t, err, domain.ErrCodeAlreadyConsumed)
	})

	t.Run("revoke by value kills the lookup", func(t *testing.T) {
		grant := &domain.Grant{
			ID:        "pg-g3",
			Type:      domain.GrantTypeClientCredentials,
			ClientID:  "client-2",
			Scopes:    []string{"orders:read"},
			State:     domain.GrantStateActive,
			CreatedAt: time.Now(),
		}
		require.NoError(t, grants.Register(ctx, grant))
		require.NoError(t, grants.IndexToken(ctx, &domain.Token{
			Value:       "pg-access-3",
			Kind:        domain.TokenKindAccess,
			ReferenceID: "ref-3",
			GrantID:     grant.ID,
			CreatedAt:   time.Now(),
			ExpiresAt:   time.Now().Add(time.Hour),
		}))

		require.NoError(t, grants.Revoke(ctx, "pg-access-3"))

		_, _, err := grants.LookupByToken(ctx, "pg-access-3")
		assert.ErrorIs(t, err, domain.ErrGrantNotFound)
	})

	t.Run("subject revocation sweeps every client", func(t *testing.T) {
		for i, clientID := range []string{"client-1", "client-2"} {
			grant := &domain.Grant{
				ID:        "pg-sweep-" + clientID,
				Type:      domain.GrantTypeAuthorizationCode,
				ClientID:  clientID,
				UserID:    "user-sweep",
				Scopes:    []string{"openid"},
				State:     domain.GrantStateActive,
				CreatedAt: time.Now(),
			}
			require.NoError(t, grants.Register(ctx, grant))
			require.NoError(t, grants.IndexToken(ctx, &domain.Token{
				Value:       "pg-sweep-" + string(rune('a'+i)),
				Kind:        domain.TokenKindAccess,
				ReferenceID: "sweep-ref-" + clientID,
				GrantID:     grant.ID,
				CreatedAt:   time.Now(),
				ExpiresAt:   time.Now().Add(time.Hour),
			}))
		}

		require.NoError(t, grants.RevokeAllForSubject(ctx, "user-sweep"))

		_, _, err := grants.LookupByToken(ctx, "pg-sweep-a")
		assert.ErrorIs(t, err, domain.ErrGrantNotFound)
		_, _, err = grants.LookupByToken(ctx, "pg-sweep-b")
		assert.ErrorIs(t, err, domain.ErrGrantNotFound)
	})
}
