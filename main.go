package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-onboard/pkg/auth"
	"github.com/ekaya-inc/ekaya-onboard/pkg/config"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/extract"
	"github.com/ekaya-inc/ekaya-onboard/pkg/handlers"
	"github.com/ekaya-inc/ekaya-onboard/pkg/llm"
	"github.com/ekaya-inc/ekaya-onboard/pkg/logging"
	"github.com/ekaya-inc/ekaya-onboard/pkg/middleware"
	"github.com/ekaya-inc/ekaya-onboard/pkg/repositories"
	"github.com/ekaya-inc/ekaya-onboard/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

// turnLockTTL bounds how long a crashed instance can hold a user's turn lock.
const turnLockTTL = 2 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("strategy", cfg.Chatbot.Strategy),
		zap.String("oracle_provider", cfg.Oracle.Provider))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %s", logging.SanitizeError(err))
	}
	defer db.Close()

	if err := migrate(cfg.Database, logger); err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %s", logging.SanitizeError(err))
	}
	var locker database.TurnLocker
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		locker = database.NewRedisTurnLocker(redisClient, turnLockTTL)
		logger.Info("Using Redis turn locks")
	} else {
		locker = database.NewLocalTurnLocker()
		logger.Info("Using in-process turn locks")
	}

	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWKS client: %w", err)
	}
	defer jwksClient.Close()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)

	var oracle services.OracleExtractor
	caller, err := llm.NewToolCaller(cfg.Oracle, logger.Named("llm"))
	switch {
	case errors.Is(err, llm.ErrOracleDisabled):
		logger.Info("Oracle disabled; using slot filling")
	case err != nil:
		return fmt.Errorf("failed to create oracle client: %w", err)
	default:
		oracle = services.NewOracleExtractor(caller, nil, cfg.Oracle, cfg.Chatbot.HistoryWindow, logger)
	}

	extractOpts := []extract.Option{extract.WithMaxBytes(cfg.Chatbot.MaxUploadBytes)}
	imageReader, err := llm.NewImageReader(cfg.Oracle, logger.Named("llm"))
	switch {
	case errors.Is(err, llm.ErrVisionUnavailable):
		logger.Info("Image uploads disabled", zap.String("oracle_provider", cfg.Oracle.Provider))
	case err != nil:
		return fmt.Errorf("failed to create image reader: %w", err)
	default:
		extractOpts = append(extractOpts, extract.WithImageReader(imageReader))
	}

	sessionRepo := repositories.NewSessionRepository()
	profileRepo := repositories.NewProfileRepository()
	productRepo := repositories.NewProductRepository()
	turnRepo := repositories.NewTurnRepository()
	tx := database.NewTransactor()

	sessionService := services.NewSessionService(sessionRepo, profileRepo, productRepo, turnRepo, tx, logger)
	productService := services.NewProductService(productRepo, tx, logger)
	chatbotService := services.NewChatbotService(services.ChatbotDeps{
		Sessions:    sessionService,
		Products:    productService,
		SessionRepo: sessionRepo,
		ProfileRepo: profileRepo,
		ProductRepo: productRepo,
		TurnRepo:    turnRepo,
		Oracle:      oracle,
		Extractor:   extract.New(logger, extractOpts...),
		Tx:          tx,
		Locker:      locker,
	}, cfg.Chatbot, logger)
	exportService := services.NewExportService(sessionService, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewChatbotHandler(chatbotService, sessionService, exportService, cfg.Chatbot.MaxUploadBytes, logger).
		RegisterRoutes(mux, authMiddleware, handlers.UserMiddleware(database.WithUserContext(db, logger)))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.Recoverer(logger)(middleware.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting ekaya-onboard",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// migrate applies embedded migrations. golang-migrate needs database/sql, so
// it gets its own short-lived handle; RunMigrations closes it.
func migrate(dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", dbCfg.URL())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %s", logging.SanitizeError(err))
	}
	defer func() { _ = sqlDB.Close() }()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %s", logging.SanitizeError(err))
	}
	return nil
}
