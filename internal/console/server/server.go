package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/agentspend/internal/console/handler"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/engine"
	"github.com/xela07ax/agentspend/internal/infra/auth"
	"go.uber.org/zap"
)

// Handlers groups every business handler the API mounts.
type Handlers struct {
	Auth         *handler.AuthHandler
	Agents       *handler.AgentHandler
	Merchants    *handler.MerchantHandler
	Transactions *handler.TransactionHandler
	Evaluations  *handler.EvaluationHandler
	Teams        *handler.TeamHandler
	Approvals    *handler.ApprovalHandler
	Network      *handler.NetworkHandler
}

type APIServer struct {
	router *chi.Mux
	logger *zap.Logger

	validator      auth.TokenValidator
	requestTimeout time.Duration
	h              Handlers
	health         http.HandlerFunc
}

// NewAPIServer wires routes once; health may be nil.
func NewAPIServer(logger *zap.Logger, validator auth.TokenValidator, requestTimeout time.Duration, h Handlers, health http.HandlerFunc) *APIServer {
	if health == nil {
		health = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	}
	s := &APIServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("api"),
		validator:      validator,
		requestTimeout: requestTimeout,
		h:              h,
		health:         health,
	}

	s.routes()
	return s
}

func (s *APIServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}

	// Public
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.h.Auth.Login)
		r.Get("/health", s.health)
	})

	// Bearer token required
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		r.Mount("/agents", s.h.Agents.Routes())
		r.Mount("/merchants", s.h.Merchants.Routes())
		r.Mount("/transactions", s.h.Transactions.Routes())
		r.Mount("/teams", s.h.Teams.Routes())

		r.Post("/evaluate", s.h.Evaluations.Evaluate)
		r.Route("/evaluations/{sessionID}", func(r chi.Router) {
			r.Get("/", s.h.Evaluations.Get)
			r.Post("/select/{agentID}", s.h.Evaluations.Select)
		})

		r.Get("/network/graph", s.h.Network.Graph)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeAdmin))
			r.Get("/block-requests", s.h.Approvals.List)
			r.Post("/block-requests/{recordID}/approve", s.h.Approvals.Approve)
			r.Post("/block-requests/{recordID}/deny", s.h.Approvals.Deny)
			r.Get("/blocks-ledger", s.h.Approvals.Ledger)
		})
	})
}

func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
