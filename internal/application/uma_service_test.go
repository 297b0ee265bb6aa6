package application

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/jose"
	"github.com/ipede/uma-auth-service/internal/infrastructure/policy"
)

func registerResource(t *testing.T, uma *UmaService, name string, scopes ...string) *domain.UmaResource {
	t.Helper()
	resource, err := uma.RegisterResource(context.Background(), &domain.UmaResource{
		Name:   name,
		Type:   "document",
		Owner:  "owner-1",
		Scopes: scopes,
	})
	require.NoError(t, err)
	return resource
}

func TestUmaService_Resources(t *testing.T) {
	ctx := context.Background()

	t.Run("register assigns an id and get round-trips", func(t *testing.T) {
		uma := newTestEnv(t).umaService()

		resource := registerResource(t, uma, "photo-album", "view", "print")
		require.NotEmpty(t, resource.ID)

		found, err := uma.GetResource(ctx, resource.ID)
		require.NoError(t, err)
		assert.Equal(t, "photo-album", found.Name)
		assert.Equal(t, []string{"view", "print"}, found.Scopes)
	})

	t.Run("re-registering the same id replaces the description", func(t *testing.T) {
		uma := newTestEnv(t).umaService()
		resource := registerResource(t, uma, "photo-album", "view")

		_, err := uma.RegisterResource(ctx, &domain.UmaResource{
			ID:     resource.ID,
			Name:   "renamed-album",
			Scopes: []string{"view", "delete"},
		})
		require.NoError(t, err)

		found, err := uma.GetResource(ctx, resource.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed-album", found.Name)
		assert.Equal(t, []string{"view", "delete"}, found.Scopes)
	})

	t.Run("registration requires a name and scopes", func(t *testing.T) {
		uma := newTestEnv(t).umaService()

		_, err := uma.RegisterResource(ctx, &domain.UmaResource{Scopes: []string{"view"}})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)

		_, err = uma.RegisterResource(ctx, &domain.UmaResource{Name: "album"})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("delete removes the resource", func(t *testing.T) {
		uma := newTestEnv(t).umaService()
		resource := registerResource(t, uma, "photo-album", "view")

		require.NoError(t, uma.DeleteResource(ctx, resource.ID))
		_, err := uma.GetResource(ctx, resource.ID)
		assert.ErrorIs(t, err, domain.ErrResourceNotFound)
		assert.ErrorIs(t, uma.DeleteResource(ctx, resource.ID), domain.ErrResourceNotFound)
	})
}

func TestUmaService_Permissions(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a ticket for valid permissions", func(t *testing.T) {
		uma := newTestEnv(t).umaService()
		resource := registerResource(t, uma, "photo-album", "view")

		ticket, err := uma.RegisterPermission(ctx, []domain.Permission{
			{ResourceID: resource.ID, Scopes: []string{"view"}},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, ticket)
	})

	t.Run("unknown resource issues nothing", func(t *testing.T) {
		uma := newTestEnv(t).umaService()

		_, err := uma.RegisterPermission(ctx, []domain.Permission{
			{ResourceID: "missing", Scopes: []string{"view"}},
		})
		assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	})

	t.Run("scope outside the resource registration issues nothing", func(t *testing.T) {
		uma := newTestEnv(t).umaService()
		resource := registerResource(t, uma, "photo-album", "view")

		_, err := uma.RegisterPermission(ctx, []domain.Permission{
			{ResourceID: resource.ID, Scopes: []string{"delete"}},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidScope)
	})

	t.Run("empty permission set issues nothing", func(t *testing.T) {
		uma := newTestEnv(t).umaService()
		_, err := uma.RegisterPermission(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})
}

func TestUmaService_ExchangeTicket(t *testing.T) {
	ctx := context.Background()

	issueTicket := func(t *testing.T, uma *UmaService, resource *domain.UmaResource, scopes ...string) string {
		t.Helper()
		ticket, err := uma.RegisterPermission(ctx, []domain.Permission{
			{ResourceID: resource.ID, Scopes: scopes},
		})
		require.NoError(t, err)
		return ticket
	}

	t.Run("policy-less scope mints an RPT carrying the permissions", func(t *testing.T) {
		env := newTestEnv(t)
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		pair, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		require.NoError(t, err)
		assert.Nil(t, needInfo)
		require.NotEmpty(t, pair.AccessToken)

		claims, err := env.signer.Verify(pair.AccessToken)
		require.NoError(t, err)
		perms, ok := claims["permissions"].([]interface{})
		require.True(t, ok)
		require.Len(t, perms, 1)
		perm := perms[0].(map[string]interface{})
		assert.Equal(t, resource.ID, perm["resource_id"])
	})

	t.Run("requested scope narrows the ticket permissions", func(t *testing.T) {
		env := newTestEnv(t)
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view", "download")
		ticket := issueTicket(t, uma, resource, "view", "download")

		pair, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket: ticket,
			Scope:  "view",
		})
		require.NoError(t, err)
		assert.Nil(t, needInfo)

		claims, err := env.signer.Verify(pair.AccessToken)
		require.NoError(t, err)
		perms := claims["permissions"].([]interface{})
		require.Len(t, perms, 1)
		assert.Equal(t, []interface{}{"view"}, perms[0].(map[string]interface{})["resource_scopes"])
	})

	t.Run("requested scope outside the ticket fails", func(t *testing.T) {
		env := newTestEnv(t)
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		_, _, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket: ticket,
			Scope:  "edit",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidScope)
	})

	t.Run("a ticket redeems exactly once", func(t *testing.T) {
		env := newTestEnv(t)
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		_, _, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		require.NoError(t, err)

		_, _, err = uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	})

	t.Run("deny-all policy denies access", func(t *testing.T) {
		env := newTestEnv(t)
		env.policies.Attach("view", policy.DenyAllPolicy{})
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		_, _, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		assert.ErrorIs(t, err, domain.ErrAccessDenied)
	})

	t.Run("unmet required claims return the need_info continuation", func(t *testing.T) {
		env := newTestEnv(t)
		env.policies.Attach("view", &policy.ClaimMatchPolicy{
			PolicyName:    "verified-viewers",
			Claims:        []domain.ClaimDefinition{{Name: "email_verified", FriendlyName: "Verified e-mail"}},
			GatheringName: "email-form",
		})
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		pair, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		require.NoError(t, err)
		assert.Nil(t, pair)
		require.NotNil(t, needInfo)
		require.Len(t, needInfo.RequiredClaims, 1)
		assert.Equal(t, "email_verified", needInfo.RequiredClaims[0].Name)
		assert.NotEqual(t, ticket, needInfo.Ticket)
		assert.Contains(t, needInfo.RedirectUser, "/uma/claims-gathering?script=email-form")
		assert.Contains(t, needInfo.RedirectUser, needInfo.Ticket)
	})

	t.Run("pushed claim token satisfies the policy", func(t *testing.T) {
		env := newTestEnv(t)
		env.policies.Attach("view", &policy.ClaimMatchPolicy{
			PolicyName: "verified-viewers",
			Claims:     []domain.ClaimDefinition{{Name: "email_verified"}},
			Expected:   map[string]interface{}{"email_verified": "true"},
		})
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		raw, err := json.Marshal(map[string]interface{}{"sub": "user-42", "email_verified": "true"})
		require.NoError(t, err)

		pair, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket:           ticket,
			ClaimToken:       base64.RawURLEncoding.EncodeToString(raw),
			ClaimTokenFormat: ClaimTokenFormatJSON,
		})
		require.NoError(t, err)
		assert.Nil(t, needInfo)
		require.NotNil(t, pair)
		assert.NotEmpty(t, pair.PCT)

		claims, err := env.signer.Verify(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "user-42", claims["sub"])
	})

	t.Run("encrypted claim token is unwrapped before verification", func(t *testing.T) {
		env := newTestEnv(t)
		env.policies.Attach("view", &policy.ClaimMatchPolicy{
			PolicyName: "verified-viewers",
			Claims:     []domain.ClaimDefinition{{Name: "email_verified"}},
			Expected:   map[string]interface{}{"email_verified": "true"},
		})
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		signed, err := env.signer.Sign(map[string]interface{}{
			"sub":            "user-42",
			"email_verified": "true",
			"iat":            time.Now().Unix(),
			"exp":            time.Now().Add(time.Minute).Unix(),
		})
		require.NoError(t, err)
		wrapped, err := jose.NewJweEncrypter(env.logger).Encrypt(
			[]byte(signed), "RSA-OAEP-256", "A256GCM", env.signer.GetPublicKey())
		require.NoError(t, err)

		pair, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket:           ticket,
			ClaimToken:       wrapped,
			ClaimTokenFormat: ClaimTokenFormatJWT,
		})
		require.NoError(t, err)
		assert.Nil(t, needInfo)
		require.NotNil(t, pair)

		claims, err := env.signer.Verify(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "user-42", claims["sub"])
	})

	t.Run("a claim token encrypted for another key fails", func(t *testing.T) {
		env := newTestEnv(t)
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		foreign, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		wrapped, err := jose.NewJweEncrypter(env.logger).Encrypt(
			[]byte("payload"), "RSA-OAEP-256", "A256GCM", &foreign.PublicKey)
		require.NoError(t, err)

		_, _, err = uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket:           ticket,
			ClaimToken:       wrapped,
			ClaimTokenFormat: ClaimTokenFormatJWT,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidJWE)
	})

	t.Run("a PCT replays previously supplied claims", func(t *testing.T) {
		env := newTestEnv(t)
		env.policies.Attach("view", &policy.ClaimMatchPolicy{
			PolicyName: "verified-viewers",
			Claims:     []domain.ClaimDefinition{{Name: "email_verified"}},
		})
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")

		raw, err := json.Marshal(map[string]interface{}{"email_verified": "true"})
		require.NoError(t, err)
		first, _, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket:           issueTicket(t, uma, resource, "view"),
			ClaimToken:       base64.RawURLEncoding.EncodeToString(raw),
			ClaimTokenFormat: ClaimTokenFormatJSON,
		})
		require.NoError(t, err)
		require.NotEmpty(t, first.PCT)

		// Second request pushes nothing; the PCT alone satisfies the policy
		second, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket: issueTicket(t, uma, resource, "view"),
			PCT:    first.PCT,
		})
		require.NoError(t, err)
		assert.Nil(t, needInfo)
		assert.NotEmpty(t, second.AccessToken)
	})

	t.Run("presented RPT extends the new one with its permissions", func(t *testing.T) {
		env := newTestEnv(t)
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		album := registerResource(t, uma, "photo-album", "view")
		archive := registerResource(t, uma, "archive", "read")

		first, _, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket: issueTicket(t, uma, album, "view"),
		})
		require.NoError(t, err)

		second, _, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket: issueTicket(t, uma, archive, "read"),
			RPT:    first.AccessToken,
		})
		require.NoError(t, err)

		claims, err := env.signer.Verify(second.AccessToken)
		require.NoError(t, err)
		perms := claims["permissions"].([]interface{})
		require.Len(t, perms, 2)
		resourceIDs := []string{
			perms[0].(map[string]interface{})["resource_id"].(string),
			perms[1].(map[string]interface{})["resource_id"].(string),
		}
		assert.Contains(t, resourceIDs, album.ID)
		assert.Contains(t, resourceIDs, archive.ID)
	})

	t.Run("a garbled claim token fails", func(t *testing.T) {
		env := newTestEnv(t)
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket := issueTicket(t, uma, resource, "view")

		_, _, err := uma.ExchangeTicket(ctx, client, RptRequest{
			Ticket:           ticket,
			ClaimToken:       "not-a-jwt",
			ClaimTokenFormat: ClaimTokenFormatJWT,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidJWT)
	})

	t.Run("missing ticket fails", func(t *testing.T) {
		env := newTestEnv(t)
		client := testClient(t, domain.GrantTypeUmaTicket)

		_, _, err := env.umaService().ExchangeTicket(ctx, client, RptRequest{})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)

		_, _, err = env.umaService().ExchangeTicket(ctx, client, RptRequest{Ticket: "unknown"})
		assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	})
}

func TestUmaService_ClaimsGathering(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testEnv, *UmaService, *domain.Client, string) {
		t.Helper()
		env := newTestEnv(t)
		env.policies.Attach("view", &policy.ClaimMatchPolicy{
			PolicyName: "kyc-viewers",
			Claims: []domain.ClaimDefinition{
				{Name: "document"},
				{Name: "country"},
			},
			GatheringName: "kyc",
		})
		env.policies.RegisterGatherer(&policy.FormGatherer{
			GathererName: "kyc",
			Claims: []domain.ClaimDefinition{
				{Name: "document"},
				{Name: "country"},
			},
		})
		uma := env.umaService()
		client := testClient(t, domain.GrantTypeUmaTicket)
		resource := registerResource(t, uma, "photo-album", "view")
		ticket, err := uma.RegisterPermission(ctx, []domain.Permission{
			{ResourceID: resource.ID, Scopes: []string{"view"}},
		})
		require.NoError(t, err)
		return env, uma, client, ticket
	}

	t.Run("gathered claims flow into the rotated ticket and the RPT", func(t *testing.T) {
		env, uma, client, ticket := setup(t)

		_, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		require.NoError(t, err)
		require.NotNil(t, needInfo)

		result, err := uma.Gather(ctx, needInfo.Ticket, "kyc", map[string]string{"document": "123"})
		require.NoError(t, err)
		assert.False(t, result.Done)
		assert.Equal(t, 1, result.NextStep)

		result, err = uma.Gather(ctx, needInfo.Ticket, "kyc", map[string]string{"country": "BR"})
		require.NoError(t, err)
		require.True(t, result.Done)
		require.NotEmpty(t, result.Ticket)
		assert.NotEqual(t, needInfo.Ticket, result.Ticket)

		pair, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: result.Ticket})
		require.NoError(t, err)
		assert.Nil(t, needInfo)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.PCT)

		claims, err := env.signer.Verify(pair.AccessToken)
		require.NoError(t, err)
		perms := claims["permissions"].([]interface{})
		require.Len(t, perms, 1)
		assert.Equal(t, []interface{}{"view"}, perms[0].(map[string]interface{})["resource_scopes"])
	})

	t.Run("a step without its claim stays put", func(t *testing.T) {
		_, uma, client, ticket := setup(t)

		_, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		require.NoError(t, err)
		require.NotNil(t, needInfo)

		result, err := uma.Gather(ctx, needInfo.Ticket, "kyc", map[string]string{"unrelated": "x"})
		require.NoError(t, err)
		assert.False(t, result.Done)
		assert.Equal(t, 0, result.NextStep)
	})

	t.Run("unknown gatherer or ticket fails", func(t *testing.T) {
		_, uma, client, ticket := setup(t)

		_, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		require.NoError(t, err)

		_, err = uma.Gather(ctx, needInfo.Ticket, "missing", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)

		_, err = uma.Gather(ctx, "missing", "kyc", map[string]string{"document": "123"})
		assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	})

	t.Run("gathering does not consume the ticket", func(t *testing.T) {
		_, uma, client, ticket := setup(t)

		_, needInfo, err := uma.ExchangeTicket(ctx, client, RptRequest{Ticket: ticket})
		require.NoError(t, err)

		_, err = uma.Gather(ctx, needInfo.Ticket, "kyc", map[string]string{"document": "123"})
		require.NoError(t, err)

		// The same ticket keeps driving the flow from its stored step
		result, err := uma.Gather(ctx, needInfo.Ticket, "kyc", map[string]string{"country": "BR"})
		require.NoError(t, err)
		assert.True(t, result.Done)
	})
}
