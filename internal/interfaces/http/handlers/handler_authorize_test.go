package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipede/uma-auth-service/internal/application"
	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/interfaces/http/middleware/bearer"
)

// bearerToken signs a short-lived token the verification middleware accepts
func bearerToken(t *testing.T, env *handlerEnv, sub string) string {
	t.Helper()
	now := time.Now()
	token, err := env.signer.Sign(map[string]interface{}{
		"iss": env.cfg.Issuer,
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

// protect chains the bearer verification the router applies to the endpoint
func protect(env *handlerEnv, handler http.HandlerFunc) http.Handler {
	m := bearer.New(env.signer, env.logger)
	return m.Verifier(m.Authenticator(handler))
}

func TestAuthorizeEndpointHandler(t *testing.T) {
	seedAuthClient := func(t *testing.T, env *handlerEnv, grantTypes ...domain.GrantType) *domain.Client {
		t.Helper()
		client := env.seedClient(t, "client-1", grantTypes...)
		client.RedirectURIs = []string{"https://app.example.com/callback"}
		require.NoError(t, env.clients.Save(context.Background(), client))
		return client
	}

	authorize := func(env *handlerEnv, query url.Values, token string) *httptest.ResponseRecorder {
		svc := application.NewAuthorizeService(env.clients, env.registry, env.factory, env.cfg, env.logger)
		handler := protect(env, NewAuthorizeHandler(svc, env.logger).AuthorizeEndpointHandler)
		req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?"+query.Encode(), nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("code flow redirects with code and state", func(t *testing.T) {
		env := newHandlerEnv(t)
		client := seedAuthClient(t, env, domain.GrantTypeAuthorizationCode)

		rec := authorize(env, url.Values{
			"response_type": {"code"},
			"client_id":     {client.ID},
			"redirect_uri":  {client.RedirectURIs[0]},
			"scope":         {"openid"},
			"state":         {"af0ifjsldkj"},
		}, bearerToken(t, env, "user-42"))

		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.example.com", location.Host)
		assert.NotEmpty(t, location.Query().Get("code"))
		assert.Equal(t, "af0ifjsldkj", location.Query().Get("state"))
	})

	t.Run("implicit flow delivers the token in the fragment", func(t *testing.T) {
		env := newHandlerEnv(t)
		client := seedAuthClient(t, env, domain.GrantTypeImplicit)

		rec := authorize(env, url.Values{
			"response_type": {"token"},
			"client_id":     {client.ID},
			"redirect_uri":  {client.RedirectURIs[0]},
			"scope":         {"openid"},
		}, bearerToken(t, env, "user-42"))

		require.Equal(t, http.StatusFound, rec.Code)
		location := rec.Header().Get("Location")
		require.Contains(t, location, "#")
		fragment, err := url.ParseQuery(location[strings.Index(location, "#")+1:])
		require.NoError(t, err)
		assert.NotEmpty(t, fragment.Get("access_token"))
		assert.Equal(t, "Bearer", fragment.Get("token_type"))
		assert.NotEmpty(t, fragment.Get("id_token"))
	})

	t.Run("missing bearer token is unauthorized", func(t *testing.T) {
		env := newHandlerEnv(t)
		seedAuthClient(t, env, domain.GrantTypeAuthorizationCode)

		rec := authorize(env, url.Values{"response_type": {"code"}}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("unknown response type is rejected", func(t *testing.T) {
		env := newHandlerEnv(t)
		client := seedAuthClient(t, env, domain.GrantTypeAuthorizationCode)

		rec := authorize(env, url.Values{
			"response_type": {"device"},
			"client_id":     {client.ID},
			"redirect_uri":  {client.RedirectURIs[0]},
		}, bearerToken(t, env, "user-42"))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
	})
}
