package api

import (
	"net/http"

	"github.com/ayo6706/transfer-core/internal/api/handler"
	"github.com/ayo6706/transfer-core/internal/api/middleware"
	"github.com/ayo6706/transfer-core/internal/api/spec"
	"github.com/ayo6706/transfer-core/internal/config"
	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/idempotency"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups the workflow components the HTTP layer exposes.
type Services struct {
	Transfers     *service.TransferService
	Approvals     *service.ApprovalWorkflow
	Scheduler     *service.SchedulingManager
	Accounts      *service.AccountService
	Beneficiaries *service.BeneficiaryService
	Settlements   *service.SettlementService
	Callbacks     *service.SettlementCallbackService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    Services
	idem   *idempotency.Store
	db     handler.Pinger
	redis  handler.Pinger
}

// NewRouter wires handlers over svc. db and redis may be nil when not configured.
func NewRouter(cfg *config.Config, logger *zap.Logger, svc Services, idem *idempotency.Store, db, redis handler.Pinger) *Router {
	return &Router{cfg: cfg, logger: logger, svc: svc, idem: idem, db: db, redis: redis}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	origins := api.cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Trace-ID", "X-Signature"},
		ExposedHeaders: []string{"X-Trace-ID", "X-Idempotent-Replay"},
		MaxAge:         300,
	}))

	health := handler.NewHealthHandler(api.db, api.redis)
	transfers := handler.NewTransferHandler(api.svc.Transfers)
	approvals := handler.NewApprovalHandler(api.svc.Approvals)
	scheduling := handler.NewSchedulingHandler(api.svc.Scheduler)
	accounts := handler.NewAccountHandler(api.svc.Accounts)
	beneficiaries := handler.NewBeneficiaryHandler(api.svc.Beneficiaries)
	settlements := handler.NewSettlementHandler(api.svc.Settlements)
	webhooks := handler.NewWebhookHandler(api.svc.Callbacks)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/health/live", health.Live)
		r.Get("/health/ready", health.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
		r.Post("/v1/webhooks/settlements", webhooks.HandleSettlementCallback)
	})

	staff := middleware.RequireRole(domain.RoleManager, domain.RoleAdmin)
	adminOnly := middleware.RequireRole(domain.RoleAdmin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Route("/v1/accounts", func(r chi.Router) {
			r.Get("/", accounts.ListMine)
			r.With(adminOnly).Post("/", accounts.CreateAccount)
			r.Get("/{id}/balance", accounts.GetBalance)
		})

		r.Route("/v1/beneficiaries", func(r chi.Router) {
			r.Get("/", beneficiaries.List)
			r.Post("/", beneficiaries.Register)
			r.With(adminOnly).Put("/{id}/confirm", beneficiaries.Confirm)
			r.With(adminOnly).Put("/{id}/reject", beneficiaries.Reject)
		})

		r.Route("/v1/transfers", func(r chi.Router) {
			r.Post("/pre-check", transfers.PreCheck)
			r.With(middleware.IdempotencyMiddleware(api.idem, api.logger)).Post("/execute", transfers.Execute)
			r.Get("/my-transfers", transfers.ListMine)
			r.Get("/{id}", transfers.Get)
			r.With(staff).Put("/{id}/approve", approvals.Approve)
			r.With(staff).Put("/{id}/reject", approvals.Reject)
		})

		r.Route("/v1/scheduling", func(r chi.Router) {
			r.Get("/my-schedules", scheduling.ListMine)
			r.Put("/{id}/cancelar", scheduling.Cancel)
		})

		r.Route("/v1/high-value-operations", func(r chi.Router) {
			r.Use(staff)
			r.Get("/", approvals.ListHighValue())
			r.Get("/pending", approvals.ListPending())
			r.Get("/high-risk", approvals.ListHighRisk())
			r.Get("/export/csv", approvals.ExportCSV)
			r.Put("/{id}/approve", approvals.Approve)
			r.Put("/{id}/reject", approvals.Reject)
			r.With(adminOnly).Put("/{id}/block", approvals.Block)
			r.Put("/{id}/notes", approvals.AddNotes)
		})

		r.Route("/v1/settlements", func(r chi.Router) {
			r.Use(adminOnly)
			r.Get("/manual-review", settlements.ListManualReview)
			r.Post("/{id}/resolve", settlements.Resolve)
		})
	})

	return r
}
