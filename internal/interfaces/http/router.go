package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ipede/uma-auth-service/internal/application"
	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/ipede/uma-auth-service/internal/infrastructure/database"
	"github.com/ipede/uma-auth-service/internal/infrastructure/jose"
	"github.com/ipede/uma-auth-service/internal/infrastructure/notify"
	"github.com/ipede/uma-auth-service/internal/infrastructure/policy"
	"github.com/ipede/uma-auth-service/internal/infrastructure/registry"
	"github.com/ipede/uma-auth-service/internal/infrastructure/repository"
	"github.com/ipede/uma-auth-service/internal/interfaces/http/handlers"
	"github.com/ipede/uma-auth-service/internal/interfaces/http/middleware/bearer"
	"github.com/ipede/uma-auth-service/internal/interfaces/http/middleware/ratelimit"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

type Router struct {
	router *chi.Mux
	db     *database.Postgres
}

// NewRouter wires the full authorization server over the given entry
// store. db may be nil for the memory and redis backends; it only feeds
// the readiness check.
func NewRouter(
	store domain.EntryStore,
	db *database.Postgres,
	policies *policy.Registry,
	cfg *config.Config,
	logger *zap.Logger,
) (*Router, error) {
	signer, err := jose.NewLocalSigner(jose.SignerConfig{
		Algorithm: cfg.SigningAlgorithm,
		KeyPath:   cfg.SigningKeyPath,
		KeySize:   cfg.RSAKeySize,
	}, logger)
	if err != nil {
		return nil, err
	}

	clientRepo := repository.NewClientRepository(store, logger)
	grantRegistry := registry.New(store, logger,
		registry.WithCodeTTL(cfg.AuthorizationCodeDuration))
	jwksService := jose.NewJWKSService(signer, logger)

	tokenFactory := application.NewTokenFactory(signer, grantRegistry, cfg, logger)
	authorizeService := application.NewAuthorizeService(clientRepo, grantRegistry, tokenFactory, cfg, logger)
	encrypter := jose.NewJweEncrypter(logger)
	umaService := application.NewUmaService(store, grantRegistry, tokenFactory, policies, signer, encrypter, cfg, logger)
	tokenService := application.NewTokenService(clientRepo, grantRegistry, tokenFactory, umaService, cfg, logger)
	introspectionService := application.NewIntrospectionService(grantRegistry, logger)
	revocationService := application.NewRevocationService(grantRegistry, logger)
	notifier := notify.NewHTTPNotifier(logger)
	cibaService := application.NewCibaService(clientRepo, grantRegistry, notifier, cfg, logger)

	// Initialize handlers
	tokenHandler := handlers.NewTokenHandler(tokenService, introspectionService, revocationService, logger)
	authorizeHandler := handlers.NewAuthorizeHandler(authorizeService, logger)
	umaHandler := handlers.NewUmaHandler(umaService, logger)
	cibaHandler := handlers.NewCibaHandler(cibaService, logger)
	wellKnownHandler := handlers.NewWellKnownHandler(jwksService, cfg, logger)
	clientHandler := handlers.NewClientHandler(clientRepo, logger)

	bearerAuth := bearer.New(signer, logger)

	router := createRouter()

	rateLimiter := ratelimit.NewRateLimiter(100, 200, 3*time.Minute)
	router.Use(rateLimiter.Middleware)

	// Health check endpoints
	router.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
			if db != nil {
				if err := db.Ping(); err != nil {
					logger.Error("Database health check failed", zap.Error(err))
					w.WriteHeader(http.StatusServiceUnavailable)
					w.Write([]byte("Database connection failed"))
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Ready"))
		})

		r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Alive"))
		})
	})

	// Swagger UI configuration
	router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
		httpSwagger.DeepLinking(true),
		httpSwagger.PersistAuthorization(true),
	))

	router.Get("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		w.Header().Set("Content-Type", "application/json")
		http.ServeFile(w, r, "docs/swagger.json")
	})

	// Discovery documents
	router.Group(func(r chi.Router) {
		r.Get("/.well-known/openid-configuration", wellKnownHandler.GetOpenIDConfigurationHandler)
		r.Get("/.well-known/uma2-configuration", wellKnownHandler.GetUmaConfigurationHandler)
		r.Get("/.well-known/jwks.json", wellKnownHandler.GetJWKSHandler)
	})

	// Token endpoint family; client authentication happens in the handlers
	router.Group(func(r chi.Router) {
		r.Post("/oauth2/token", tokenHandler.TokenEndpointHandler)
		r.Post("/oauth2/introspect", tokenHandler.IntrospectHandler)
		r.Post("/oauth2/revoke", tokenHandler.RevokeHandler)
		r.Post("/oauth2/revoke-subject", tokenHandler.RevokeSubjectHandler)
		r.Post("/oauth2/bc-authorize", cibaHandler.BackchannelAuthorizeHandler)
	})

	// Claims gathering is driven by the end user mid-flow; the ticket is
	// the credential
	router.Post("/uma/claims-gathering", umaHandler.GatherHandler)

	// User-facing endpoints behind bearer authentication
	router.Group(func(r chi.Router) {
		r.Use(bearerAuth.Verifier, bearerAuth.Authenticator)
		r.Get("/oauth2/authorize", authorizeHandler.AuthorizeEndpointHandler)
		r.Post("/ciba/approve", cibaHandler.ApproveHandler)
		r.Post("/ciba/deny", cibaHandler.DenyHandler)

		// Client management routes
		r.Post("/clients", clientHandler.CreateClientHandler)
		r.Get("/clients/{id}", clientHandler.GetClientHandler)
	})

	// UMA protection API; callers present a PAT carrying uma_protection
	router.Group(func(r chi.Router) {
		r.Use(bearerAuth.Verifier, bearerAuth.Authenticator, bearerAuth.RequireScope("uma_protection"))
		r.Post("/uma/resources", umaHandler.RegisterResourceHandler)
		r.Get("/uma/resources/{id}", umaHandler.GetResourceHandler)
		r.Delete("/uma/resources/{id}", umaHandler.DeleteResourceHandler)
		r.Post("/uma/permissions", umaHandler.PermissionHandler)
	})

	return &Router{router: router, db: db}, nil
}

func createRouter() *chi.Mux {
	router := chi.NewRouter()

	// Add middleware
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Timeout(60 * time.Second))

	return router
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
