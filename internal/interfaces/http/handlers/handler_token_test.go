package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ipede/uma-auth-service/internal/application"
	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/ipede/uma-auth-service/internal/infrastructure/jose"
	"github.com/ipede/uma-auth-service/internal/infrastructure/policy"
	"github.com/ipede/uma-auth-service/internal/infrastructure/registry"
	"github.com/ipede/uma-auth-service/internal/infrastructure/repository"
	"github.com/ipede/uma-auth-service/internal/infrastructure/secret"
	"github.com/ipede/uma-auth-service/internal/infrastructure/storage"
)

// handlerEnv wires the full service stack over the in-memory store so the
// handlers are exercised end to end
type handlerEnv struct {
	signer   *jose.LocalSigner
	registry *registry.GrantRegistry
	clients  *repository.ClientRepository
	factory  *application.TokenFactory
	policies *policy.Registry
	uma      *application.UmaService
	token    *TokenHandler
	umaH     *UmaHandler
	cfg      *config.Config
	logger   *zap.Logger
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.Config{
		Issuer:                    "http://localhost:8080",
		SigningAlgorithm:          "RS256",
		AccessTokenDuration:       15 * time.Minute,
		RefreshTokenDuration:      24 * time.Hour,
		IDTokenDuration:           time.Hour,
		RPTDuration:               time.Hour,
		PCTDuration:               720 * time.Hour,
		AuthorizationCodeDuration: 10 * time.Minute,
		PermissionTicketDuration:  30 * time.Minute,
		CibaRequestDuration:       5 * time.Minute,
	}
	signer, err := jose.NewLocalSigner(jose.SignerConfig{Algorithm: "RS256", KeySize: 2048}, logger)
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	t.Cleanup(store.Close)

	reg := registry.New(store, logger, registry.WithCodeTTL(cfg.AuthorizationCodeDuration))
	clients := repository.NewClientRepository(store, logger)
	factory := application.NewTokenFactory(signer, reg, cfg, logger)
	policies := policy.NewRegistry()
	uma := application.NewUmaService(store, reg, factory, policies, signer, jose.NewJweEncrypter(logger), cfg, logger)
	tokens := application.NewTokenService(clients, reg, factory, uma, cfg, logger)
	introspection := application.NewIntrospectionService(reg, logger)
	revocation := application.NewRevocationService(reg, logger)

	return &handlerEnv{
		signer:   signer,
		registry: reg,
		clients:  clients,
		factory:  factory,
		policies: policies,
		uma:      uma,
		token:    NewTokenHandler(tokens, introspection, revocation, logger),
		umaH:     NewUmaHandler(uma, logger),
		cfg:      cfg,
		logger:   logger,
	}
}

func (e *handlerEnv) seedClient(t *testing.T, id string, grantTypes ...domain.GrantType) *domain.Client {
	t.Helper()
	hash, err := secret.HashSecret("s3cret")
	require.NoError(t, err)
	client := &domain.Client{
		ID:         id,
		SecretHash: hash,
		AuthMethod: domain.AuthMethodSecretBasic,
		GrantTypes: grantTypes,
		Scopes:     []string{"openid", "orders:read", "uma_protection"},
		CreatedAt:  time.Now(),
	}
	require.NoError(t, e.clients.Save(context.Background(), client))
	return client
}

func postForm(handler http.HandlerFunc, form url.Values, basicAuth [2]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicAuth[0] != "" {
		req.SetBasicAuth(basicAuth[0], basicAuth[1])
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTokenEndpointHandler(t *testing.T) {
	t.Run("client credentials over basic auth", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.seedClient(t, "client-1", domain.GrantTypeClientCredentials)

		rec := postForm(env.token.TokenEndpointHandler, url.Values{
			"grant_type": {string(domain.GrantTypeClientCredentials)},
			"scope":      {"orders:read"},
		}, [2]string{"client-1", "s3cret"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		body := decodeBody(t, rec)
		assert.NotEmpty(t, body["access_token"])
		assert.Equal(t, "Bearer", body["token_type"])
		assert.Equal(t, "orders:read", body["scope"])
	})

	t.Run("credentials in the form body work as client_secret_post", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.seedClient(t, "client-1", domain.GrantTypeClientCredentials)

		rec := postForm(env.token.TokenEndpointHandler, url.Values{
			"grant_type":    {string(domain.GrantTypeClientCredentials)},
			"client_id":     {"client-1"},
			"client_secret": {"s3cret"},
		}, [2]string{})

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong secret is a 401 invalid_client", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.seedClient(t, "client-1", domain.GrantTypeClientCredentials)

		rec := postForm(env.token.TokenEndpointHandler, url.Values{
			"grant_type": {string(domain.GrantTypeClientCredentials)},
		}, [2]string{"client-1", "wrong"})

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_client", decodeBody(t, rec)["error"])
	})

	t.Run("unknown grant type is a 400 unsupported_grant_type", func(t *testing.T) {
		env := newHandlerEnv(t)

		rec := postForm(env.token.TokenEndpointHandler, url.Values{
			"grant_type": {"password"},
		}, [2]string{"client-1", "s3cret"})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "unsupported_grant_type", decodeBody(t, rec)["error"])
	})

	t.Run("uma ticket grant returns need_info with the rotated ticket", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.seedClient(t, "client-1", domain.GrantTypeUmaTicket)
		env.policies.Attach("view", &policy.ClaimMatchPolicy{
			PolicyName:    "verified-viewers",
			Claims:        []domain.ClaimDefinition{{Name: "email_verified", FriendlyName: "Verified e-mail"}},
			GatheringName: "email-form",
		})

		ctx := context.Background()
		resource, err := env.uma.RegisterResource(ctx, &domain.UmaResource{
			Name:   "photo-album",
			Scopes: []string{"view"},
		})
		require.NoError(t, err)
		ticket, err := env.uma.RegisterPermission(ctx, []domain.Permission{
			{ResourceID: resource.ID, Scopes: []string{"view"}},
		})
		require.NoError(t, err)

		rec := postForm(env.token.TokenEndpointHandler, url.Values{
			"grant_type": {string(domain.GrantTypeUmaTicket)},
			"ticket":     {ticket},
		}, [2]string{"client-1", "s3cret"})

		require.Equal(t, http.StatusForbidden, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "need_info", body["error"])
		assert.NotEmpty(t, body["ticket"])
		assert.NotEqual(t, ticket, body["ticket"])
		required := body["required_claims"].([]interface{})
		require.Len(t, required, 1)
		assert.Equal(t, "email_verified", required[0].(map[string]interface{})["name"])
	})
}

func TestIntrospectAndRevokeHandlers(t *testing.T) {
	mint := func(t *testing.T, env *handlerEnv) string {
		t.Helper()
		rec := postForm(env.token.TokenEndpointHandler, url.Values{
			"grant_type": {string(domain.GrantTypeClientCredentials)},
		}, [2]string{"client-1", "s3cret"})
		require.Equal(t, http.StatusOK, rec.Code)
		return decodeBody(t, rec)["access_token"].(string)
	}

	t.Run("introspection flips to inactive after revocation", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.seedClient(t, "client-1", domain.GrantTypeClientCredentials)
		accessToken := mint(t, env)

		rec := postForm(env.token.IntrospectHandler, url.Values{
			"token": {accessToken},
		}, [2]string{"client-1", "s3cret"})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["active"])
		assert.Equal(t, "client-1", body["client_id"])

		rec = postForm(env.token.RevokeHandler, url.Values{
			"token": {accessToken},
		}, [2]string{"client-1", "s3cret"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = postForm(env.token.IntrospectHandler, url.Values{
			"token": {accessToken},
		}, [2]string{"client-1", "s3cret"})
		assert.Equal(t, false, decodeBody(t, rec)["active"])
	})

	t.Run("introspection requires client authentication", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.seedClient(t, "client-1", domain.GrantTypeClientCredentials)

		rec := postForm(env.token.IntrospectHandler, url.Values{
			"token": {"whatever"},
		}, [2]string{"client-1", "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("revoke-subject kills the subject's tokens", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.seedClient(t, "client-1", domain.GrantTypeClientCredentials)

		rec := postForm(env.token.RevokeSubjectHandler, url.Values{
			"sub": {"user-42"},
		}, [2]string{"client-1", "s3cret"})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = postForm(env.token.RevokeSubjectHandler, url.Values{}, [2]string{"client-1", "s3cret"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUmaHandlers(t *testing.T) {
	router := func(env *handlerEnv) chi.Router {
		r := chi.NewRouter()
		r.Post("/uma/resources", env.umaH.RegisterResourceHandler)
		r.Get("/uma/resources/{id}", env.umaH.GetResourceHandler)
		r.Delete("/uma/resources/{id}", env.umaH.DeleteResourceHandler)
		r.Post("/uma/permissions", env.umaH.PermissionHandler)
		return r
	}

	register := func(t *testing.T, r chi.Router) string {
		t.Helper()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/uma/resources",
			strings.NewReader(`{"name":"photo-album","type":"album","owner":"owner-1","resource_scopes":["view","print"]}`))
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotEmpty(t, body["_id"])
		return body["_id"]
	}

	t.Run("resource lifecycle", func(t *testing.T) {
		env := newHandlerEnv(t)
		r := router(env)
		id := register(t, r)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uma/resources/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "photo-album", body["name"])
		assert.Equal(t, []interface{}{"view", "print"}, body["resource_scopes"])

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/uma/resources/"+id, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uma/resources/"+id, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_resource_id", decodeBody(t, rec)["error"])
	})

	t.Run("permission endpoint accepts an object or an array", func(t *testing.T) {
		env := newHandlerEnv(t)
		r := router(env)
		id := register(t, r)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/uma/permissions",
			strings.NewReader(`{"resource_id":"`+id+`","resource_scopes":["view"]}`)))
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.NotEmpty(t, decodeBody(t, rec)["ticket"])

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/uma/permissions",
			strings.NewReader(`[{"resource_id":"`+id+`","resource_scopes":["view","print"]}]`)))
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.NotEmpty(t, decodeBody(t, rec)["ticket"])
	})

	t.Run("permission for an unknown resource is rejected", func(t *testing.T) {
		env := newHandlerEnv(t)
		r := router(env)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/uma/permissions",
			strings.NewReader(`{"resource_id":"missing","resource_scopes":["view"]}`)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_resource_id", decodeBody(t, rec)["error"])
	})

	t.Run("claims gathering walks the steps and completes", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.policies.RegisterGatherer(&policy.FormGatherer{
			GathererName: "kyc",
			Claims:       []domain.ClaimDefinition{{Name: "document"}, {Name: "country"}},
		})

		ctx := context.Background()
		resource, err := env.uma.RegisterResource(ctx, &domain.UmaResource{
			Name:   "photo-album",
			Scopes: []string{"view"},
		})
		require.NoError(t, err)
		ticket, err := env.uma.RegisterPermission(ctx, []domain.Permission{
			{ResourceID: resource.ID, Scopes: []string{"view"}},
		})
		require.NoError(t, err)

		rec := postForm(env.umaH.GatherHandler, url.Values{
			"ticket":   {ticket},
			"script":   {"kyc"},
			"document": {"123"},
		}, [2]string{})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "in_progress", body["status"])
		assert.Equal(t, float64(1), body["next_step"])

		rec = postForm(env.umaH.GatherHandler, url.Values{
			"ticket":  {ticket},
			"script":  {"kyc"},
			"country": {"BR"},
		}, [2]string{})
		require.Equal(t, http.StatusOK, rec.Code)
		body = decodeBody(t, rec)
		assert.Equal(t, "complete", body["status"])
		assert.NotEmpty(t, body["ticket"])

		rec = postForm(env.umaH.GatherHandler, url.Values{
			"script": {"kyc"},
		}, [2]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
