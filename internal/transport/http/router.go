package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sender-identity/internal/application/cleanup"
	"github.com/sender-identity/internal/application/domainverify"
	"github.com/sender-identity/internal/application/identity"
	"github.com/sender-identity/internal/application/ingest"
	"github.com/sender-identity/internal/application/sender"
	"github.com/sender-identity/internal/application/transition"
	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/transport/http/handler"
	appmiddleware "github.com/sender-identity/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"authentication is not configured"}`, http.StatusServiceUnavailable)
			})
		}
	}

	// 5 requests/second, burst of 10, applied to public verification endpoints.
	verifyRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	adapter := identity.NewAdapter(deps.Provider)
	applier := transition.NewApplier(deps.SenderRepo, deps.DomainRepo, deps.Publisher)
	cleaner := cleanup.NewManager(cleanup.Deps{
		Identity:    adapter,
		Senders:     deps.SenderRepo,
		Domains:     deps.DomainRepo,
		Orphans:     deps.OrphanRepo,
		Transitions: applier,
	})
	initiator := domainverify.New(domainverify.Deps{
		Identity: adapter,
		Domains:  deps.DomainRepo,
		Tiers:    deps.TenantRepo,
		Zones:    deps.ZoneStore,
		ZoneTTL:  cfg.ZoneExportTTL,
	})
	senderSvc := sender.NewService(sender.ServiceDeps{
		SenderRepo:    deps.SenderRepo,
		TierRepo:      deps.TenantRepo,
		Initiator:     initiator,
		Identity:      adapter,
		Tokens:        deps.Tokens,
		Mailer:        deps.Mailer,
		Scheduler:     deps.Scheduler,
		Cleaner:       cleaner,
		Transitions:   applier,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	ingestor := ingest.New(deps.SenderRepo, deps.DomainRepo, applier)

	healthH := handler.NewHealthHandler()
	senderH := handler.NewSenderHandler(senderSvc)
	verifyH := handler.NewVerifyHandler(senderSvc)
	domainH := handler.NewDomainHandler(initiator)
	var eventH *handler.EventHandler
	if deps.SNSVerifier != nil {
		eventH = handler.NewEventHandler(ingestor, deps.SNSVerifier, cfg.SESEventTopicARNs)
	} else {
		eventH = handler.NewEventHandler(ingestor, nil, cfg.SESEventTopicARNs)
	}

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(verifyRL.Limit).Get("/verify", verifyH.Confirm)
		r.With(verifyRL.Limit).Post("/verify", verifyH.Confirm)
		r.Post("/events/ses", eventH.Receive)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			// Any tenant member
			r.Get("/senders", senderH.List)
			r.Get("/senders/{id}", senderH.Get)
			r.Get("/domains/{domain}", domainH.Get)

			// Owners and admins
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleOwner, domain.RoleAdmin))

				r.Post("/senders", senderH.Create)
				r.Put("/senders/{id}", senderH.Update)
				r.Delete("/senders/{id}", senderH.Delete)
				r.Post("/senders/{id}/resend", senderH.Resend)
				r.Post("/domains", domainH.Create)
			})
		})
	})

	return r
}
