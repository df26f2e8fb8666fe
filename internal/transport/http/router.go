package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-otc-api/internal/application/challenge"
	"github.com/go-otc-api/internal/application/provisioning"
	"github.com/go-otc-api/internal/config"
	"github.com/go-otc-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-otc-api/internal/infrastructure/jwt"
	"github.com/go-otc-api/internal/infrastructure/smtp"
	"github.com/go-otc-api/internal/infrastructure/sns"
	"github.com/go-otc-api/internal/transport/http/handler"
	appmiddleware "github.com/go-otc-api/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	ChallengeRepo *dynamo.ChallengeRepo
	AccountRepo   *dynamo.AccountRepo
	ProfileRepo   *dynamo.ProfileRepo
	Mailer        smtp.Mailer
	Alerts        sns.AlertPublisher
	JWTProvider   *jwtinfra.Provider
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	challengeSvc := challenge.NewService(challenge.ServiceDeps{
		ChallengeRepo:   deps.ChallengeRepo,
		AccountRepo:     deps.AccountRepo,
		Mailer:          deps.Mailer,
		Alerts:          deps.Alerts,
		StorageTimeout:  cfg.StorageTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})
	provisioningDeps := provisioning.ServiceDeps{
		Validator:      challengeSvc,
		AccountRepo:    deps.AccountRepo,
		ProfileRepo:    deps.ProfileRepo,
		StorageTimeout: cfg.StorageTimeout,
	}
	if deps.JWTProvider != nil {
		provisioningDeps.TokenSigner = deps.JWTProvider
	}
	provisioningSvc := provisioning.NewService(provisioningDeps)

	healthH := handler.NewHealthHandler()
	signupH := handler.NewSignupHandler(challengeSvc, provisioningSvc)
	recoveryH := handler.NewRecoveryHandler(challengeSvc, provisioningSvc)

	// 5 requests/second, burst of 10 — every flow endpoint is public and
	// abuse-prone, so all of them sit behind the limiter.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/signup/{action}", signupH.Action)
		r.With(sensitiveRL.Limit).Post("/password-recovery/{action}", recoveryH.Action)
	})

	return r
}
