package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/agentspend/internal/audit"
	"github.com/xela07ax/agentspend/internal/authorizer"
	"github.com/xela07ax/agentspend/internal/blocks"
	"github.com/xela07ax/agentspend/internal/connectors"
	"github.com/xela07ax/agentspend/internal/console/handler"
	"github.com/xela07ax/agentspend/internal/console/server"
	"github.com/xela07ax/agentspend/internal/console/service"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/engine"
	"github.com/xela07ax/agentspend/internal/infra"
	"github.com/xela07ax/agentspend/internal/infra/auth"
	"github.com/xela07ax/agentspend/internal/killswitch"
	"github.com/xela07ax/agentspend/internal/network"
	"github.com/xela07ax/agentspend/internal/policy"
	"github.com/xela07ax/agentspend/internal/repository"
	"github.com/xela07ax/agentspend/internal/repository/memory"
	"github.com/xela07ax/agentspend/internal/repository/postgres"
	"github.com/xela07ax/agentspend/internal/risk"
)

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Storage
	store, err := openStore(appCtx, cfg, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer store.Close()

	// 2. Optional Redis: revocation signals and the graph cache
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, pingCancel := context.WithTimeout(appCtx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, running without signals", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		pingCancel()
		defer rdb.Close()
	}

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	journal := audit.NewJournal(store, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval, logger).
		WithGauge(metrics.AuditBufferFill)
	journal.Start()
	defer journal.Stop()

	// 4. Kill-switch
	ks := killswitch.NewManager(rdb, store, logger)
	if err := ks.Init(appCtx); err != nil {
		logger.Fatal("kill-switch warmup failed", zap.Error(err))
	}
	go ks.Listen(appCtx)

	// 5. Core
	predictor, closeOracle := buildPredictor(cfg, metrics, logger)
	defer closeOracle()

	scorer := risk.NewScorer()
	limits := policy.NewTierLimits(logger)
	limits.Apply(cfg.Limits)

	evaluator := engine.NewEvaluator(store, predictor, scorer, engine.Config{
		Workers:          cfg.Engine.Workers,
		PredictorTimeout: cfg.Engine.PredictorTimeout,
	}, metrics, journal, logger)

	authz := authorizer.New(store, scorer, risk.NewPolicy(cfg.Risk.BlockThreshold, logger), logger,
		authorizer.WithConflictRetries(cfg.Engine.ConflictRetries),
		authorizer.WithRevocations(ks),
		authorizer.WithMetrics(metrics),
		authorizer.WithAuditor(journal),
		authorizer.WithVelocityLimit(cfg.Risk.VelocityLimit),
		authorizer.WithSignatureRequired(cfg.Risk.RequireSignature),
	)
	ledger := blocks.NewLedger(store, ks, journal, logger)
	graph := network.NewCachedBuilder(network.NewBuilder(store), rdb, cfg.Network.CacheTTL, logger)

	// 6. Auth
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key", zap.Error(err))
	}
	authSvc := service.NewAuthService(store, privKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL, logger)
	if err := authSvc.EnsureUser(appCtx, cfg.Auth.BootstrapAdminUser, cfg.Auth.BootstrapAdminPasswordHash, domain.RoleAdmin); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	// 7. HTTP
	teams := service.NewTeamService(store, logger)
	api := server.NewAPIServer(logger, auth.NewBaseValidator(pubKey, cfg.Auth.Issuer), cfg.Server.RequestTimeout, server.Handlers{
		Auth:         handler.NewAuthHandler(authSvc),
		Agents:       handler.NewAgentHandler(service.NewAgentService(store, limits, logger)),
		Merchants:    handler.NewMerchantHandler(service.NewMerchantService(store, logger), ledger),
		Transactions: handler.NewTransactionHandler(authz),
		Evaluations:  handler.NewEvaluationHandler(evaluator),
		Teams:        handler.NewTeamHandler(teams, evaluator),
		Approvals:    handler.NewApprovalHandler(ledger),
		Network:      handler.NewNetworkHandler(graph),
	}, healthCheck(store))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	go func() {
		logger.Info("metrics listener started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("api started", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// 8. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (repository.Store, error) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("using in-memory storage; state is lost on restart")
		return memory.NewStore(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := postgres.NewStore(connectCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := pg.Migrate(connectCtx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

// buildPredictor prefers the remote oracle when one is configured.
func buildPredictor(cfg *infra.Config, metrics *engine.Metrics, logger *zap.Logger) (engine.Predictor, func()) {
	var (
		next    engine.Predictor = engine.NewCatalogPredictor()
		name                     = "catalog"
		cleanup                  = func() {}
	)
	if cfg.Engine.OracleAddr != "" {
		conn, err := connectors.DialOracle(cfg.Engine.OracleAddr)
		if err != nil {
			logger.Fatal("price oracle dial failed", zap.String("addr", cfg.Engine.OracleAddr), zap.Error(err))
		}
		next = engine.NewOraclePredictor(connectors.NewGRPCPricer(conn, cfg.Engine.PredictorTimeout))
		name = "oracle"
		cleanup = func() { conn.Close() }
	}

	logger.Info("price predictor selected", zap.String("predictor", name))
	return engine.NewReliabilityWrapper(next, engine.ReliabilityConfig{
		Name:          name,
		MaxRequests:   cfg.Engine.CBMaxRequests,
		Interval:      cfg.Engine.CBInterval,
		Timeout:       cfg.Engine.CBTimeout,
		MaxFailures:   cfg.Engine.CBMaxFailures,
		RateLimit:     cfg.Engine.RateLimit,
		RateBurst:     cfg.Engine.RateBurst,
		RetryAttempts: cfg.Engine.RetryAttempts,
	}, metrics, logger), cleanup
}

func healthCheck(store repository.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
