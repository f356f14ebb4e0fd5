package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/auth"
	billingfunds "residence-cloud/internal/billing/adapters/funds"
	billingapp "residence-cloud/internal/billing/application"
	"residence-cloud/internal/billing/application/events"
	billing "residence-cloud/internal/billing/domain"
	billingmemory "residence-cloud/internal/billing/infrastructure/memory"
	billingpostgres "residence-cloud/internal/billing/infrastructure/postgres"
	billinginterfaces "residence-cloud/internal/billing/interfaces"
	"residence-cloud/internal/eventing"
	"residence-cloud/internal/eventing/eventbus"
	eventingmemory "residence-cloud/internal/eventing/infrastructure/memory"
	eventingpostgres "residence-cloud/internal/eventing/infrastructure/postgres"
	fundsapp "residence-cloud/internal/funds/application"
	funds "residence-cloud/internal/funds/domain"
	fundsmemory "residence-cloud/internal/funds/infrastructure/memory"
	fundspostgres "residence-cloud/internal/funds/infrastructure/postgres"
	fundsinterfaces "residence-cloud/internal/funds/interfaces"
	"residence-cloud/internal/observability/logger"
	"residence-cloud/internal/observability/metrics"
	unitsapp "residence-cloud/internal/units/application"
	units "residence-cloud/internal/units/domain"
	unitsmemory "residence-cloud/internal/units/infrastructure/memory"
	unitspostgres "residence-cloud/internal/units/infrastructure/postgres"
	unitsinterfaces "residence-cloud/internal/units/interfaces"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	billingCfg, err := billingapp.LoadConfig()
	if err != nil {
		zlog.Fatal("billing config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("open record store", zap.String("store", cfg.RecordStore), zap.Error(err))
	}
	defer st.Close()
	metrics.Init(st.db, zlog)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(
		events.ChargesGenerated{},
		events.ChargePaid{},
		events.ChargeExpired{},
		events.PeriodClosed{},
	)
	dispatcher := eventing.NewDispatcher(baseBus, st.outbox, registry, st.dlq, zlog, eventing.WithMaxAttempts(cfg.DispatchMaxAttempts))
	publisher := billinginterfaces.NewOutboxPublisher(
		eventing.NewPublisher(st.outbox, dispatcher, "system", baseBus, zlog),
	)

	directory, err := unitsapp.NewDirectory(st.units, zlog)
	if err != nil {
		zlog.Fatal("unit directory", zap.Error(err))
	}
	clock := billingapp.SystemClock{}
	fundService, err := fundsapp.NewService(st.ledger, fundsapp.Options{AllowOverdraft: billingCfg.AllowOverdraft, Clock: clock}, zlog)
	if err != nil {
		zlog.Fatal("fund service", zap.Error(err))
	}
	if err := fundService.EnsureFunds(ctx, billingCfg.Funds); err != nil {
		zlog.Fatal("ensure funds", zap.Error(err))
	}
	ledgerAdapter, err := billingfunds.NewLedgerAdapter(fundService, billingCfg.Location())
	if err != nil {
		zlog.Fatal("fund ledger adapter", zap.Error(err))
	}

	if len(billingCfg.Funds) > 0 {
		credit, err := billingfunds.NewPaymentCredit(fundService, billingCfg.Funds[0], zlog)
		if err != nil {
			zlog.Fatal("payment credit consumer", zap.Error(err))
		}
		eventing.Subscribe(baseBus, eventbus.EventTypeOf[events.ChargePaid](), billingfunds.PaymentCreditConsumer, credit.Handle, st.processed)
	}
	eventLog := billinginterfaces.NewEventLogger(zlog.Named("billing.events"))
	for _, eventType := range []string{
		eventbus.EventTypeOf[events.ChargesGenerated](),
		eventbus.EventTypeOf[events.ChargePaid](),
		eventbus.EventTypeOf[events.ChargeExpired](),
		eventbus.EventTypeOf[events.PeriodClosed](),
	} {
		eventing.Subscribe(baseBus, eventType, billinginterfaces.EventLoggerConsumer, eventLog.Handle, st.processed)
	}

	chargeService, err := billingapp.NewChargeService(st.charges, publisher, clock, zlog)
	if err != nil {
		zlog.Fatal("charge service", zap.Error(err))
	}
	generator, err := billingapp.NewGenerationScheduler(chargeService, directory, publisher, billingCfg.GenerationDefaults(), clock, zlog)
	if err != nil {
		zlog.Fatal("generation scheduler", zap.Error(err))
	}
	engine, err := billingapp.NewClosingEngine(chargeService, generator, st.closings, ledgerAdapter, ledgerAdapter, publisher, clock, zlog)
	if err != nil {
		zlog.Fatal("closing engine", zap.Error(err))
	}
	jobs, err := billingapp.NewJobs(generator, engine, billingCfg.Schedule, zlog)
	if err != nil {
		zlog.Fatal("billing jobs", zap.Error(err))
	}
	if batch, err := jobs.EnsureCurrentYear(ctx); err != nil {
		zlog.Warn("ensure current year charges", zap.Error(err))
	} else if batch.FailedCount > 0 {
		zlog.Warn("ensure current year partially failed", zap.String("message", batch.Message))
	}
	if billingCfg.Schedule.Enabled {
		if _, err := jobs.Start(ctx); err != nil {
			zlog.Fatal("start billing jobs", zap.Error(err))
		}
	}
	go runDispatchLoop(ctx, dispatcher, st.outbox, cfg.DispatchInterval, zlog)

	chargeAPI, err := billinginterfaces.NewChargeAPI(chargeService, generator, st.audit, zlog)
	if err != nil {
		zlog.Fatal("charge api", zap.Error(err))
	}
	closingAPI, err := billinginterfaces.NewClosingAPI(engine, clock, billingCfg.Location(), st.audit, zlog)
	if err != nil {
		zlog.Fatal("closing api", zap.Error(err))
	}
	fundAPI, err := fundsinterfaces.NewAPI(fundService, st.audit, zlog)
	if err != nil {
		zlog.Fatal("funds api", zap.Error(err))
	}
	unitAPI, err := unitsinterfaces.NewAPI(directory, st.audit, zlog)
	if err != nil {
		zlog.Fatal("units api", zap.Error(err))
	}

	mux := http.NewServeMux()
	chargeAPI.Register(mux)
	closingAPI.Register(mux)
	fundAPI.Register(mux)
	unitAPI.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", apihttp.NewHealthHandler(st.db))

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           logger.Middleware(zlog, authMiddleware.Wrap(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	zlog.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.RecordStore))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zlog.Fatal("http server", zap.Error(err))
	}
}

type config struct {
	DatabaseURL         string
	HTTPAddr            string
	JWTSecret           string
	RecordStore         string
	LogLevel            string
	LogFormat           string
	DispatchInterval    time.Duration
	// DispatchMaxAttempts bounds redelivery before an event is dead-lettered.
	DispatchMaxAttempts int
}

func loadConfig() (config, error) {
	cfg := config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		RecordStore:         strings.ToLower(getenvDefault("RECORD_STORE", storePostgres)),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
		LogFormat:           getenvDefault("LOG_FORMAT", "json"),
		DispatchInterval:    getenvDuration("OUTBOX_DISPATCH_INTERVAL", 5*time.Second),
		DispatchMaxAttempts: getenvIntDefault("OUTBOX_MAX_ATTEMPTS", eventing.DefaultMaxAttempts),
	}
	switch cfg.RecordStore {
	case storeMemory:
	case storePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, errors.New("DATABASE_URL or PG_DSN is required")
		}
	default:
		return cfg, fmt.Errorf("RECORD_STORE must be %q or %q", storeMemory, storePostgres)
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("AUTH_JWT_SECRET is required")
	}
	return cfg, nil
}

// outboxStore is satisfied by both the memory and the postgres outbox.
type outboxStore interface {
	eventing.OutboxWriter
	eventing.OutboxStore
}

type staleRequeuer interface {
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type stores struct {
	db        *sql.DB
	charges   billing.ChargeRepository
	closings  billing.ClosingRepository
	units     units.Repository
	ledger    funds.Ledger
	outbox    outboxStore
	processed eventing.ProcessedStore
	dlq       eventing.DLQStore
	audit     audit.Logger
}

func openStores(ctx context.Context, cfg config, zlog *zap.Logger) (*stores, error) {
	if cfg.RecordStore == storeMemory {
		zlog.Warn("using in-memory record store; data is lost on restart")
		return &stores{
			charges:   billingmemory.NewChargeRepository(),
			closings:  billingmemory.NewClosingRepository(),
			units:     unitsmemory.NewUnitRepository(),
			ledger:    fundsmemory.NewLedger(),
			outbox:    eventingmemory.NewOutboxStore(),
			processed: eventingmemory.NewProcessedStore(),
			dlq:       eventingmemory.NewDLQStore(),
			audit:     audit.NewMemoryLogger(zlog.Named("audit")),
		}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stores{
		db:        db,
		charges:   billingpostgres.NewChargeRepository(db),
		closings:  billingpostgres.NewClosingRepository(db),
		units:     unitspostgres.NewUnitRepository(db),
		ledger:    fundspostgres.NewLedger(db),
		outbox:    eventingpostgres.NewOutboxStore(db),
		processed: eventingpostgres.NewProcessedStore(db),
		dlq:       eventingpostgres.NewDLQStore(db),
		audit:     audit.NewRepository(db),
	}, nil
}

func (s *stores) Close() {
	if s != nil && s.db != nil {
		_ = s.db.Close()
	}
}

// runDispatchLoop redelivers outbox rows the inline dispatch left pending,
// e.g. after a failed delivery or a crash mid-dispatch.
func runDispatchLoop(ctx context.Context, dispatcher *eventing.Dispatcher, outbox outboxStore, interval time.Duration, zlog *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if requeuer, ok := outbox.(staleRequeuer); ok {
			if n, err := requeuer.RequeueStale(ctx, 5*time.Minute); err != nil {
				zlog.Warn("outbox requeue failed", zap.Error(err))
			} else if n > 0 {
				zlog.Info("outbox rows requeued", zap.Int64("count", n))
			}
		}
		if _, err := dispatcher.Dispatch(ctx, 100); err != nil {
			zlog.Warn("outbox dispatch failed", zap.Error(err))
		}
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
