package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klymo_server/config"
	"klymo_server/routes"
	"klymo_server/services"
	"klymo_server/socket"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

// stores is everything that depends on the selected backend.
type stores struct {
	pool     services.WaitingPool
	limits   services.LimitStore
	profiles services.ProfileStore
	reports  services.ReportSink
	closers  []func() error
}

func buildStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Backend == config.BackendMemory {
		log.Warn("⚠️ Using in-memory stores; state is lost on restart and not shared between instances")
		return &stores{
			pool:     services.NewMemoryPool(nil),
			limits:   services.NewMemoryLimitStore(),
			profiles: services.NewMemoryProfileStore(),
			reports:  &services.MemoryReportSink{},
		}, nil
	}

	log.Info("Initializing DynamoDB client...")
	dynamoClient, err := services.InitializeDynamoDBClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
	if err != nil {
		return nil, err
	}
	dynamo := &services.DynamoService{Client: dynamoClient}
	log.Info("DynamoDB client initialized.")

	s := &stores{
		profiles: &services.DynamoProfileStore{Dynamo: dynamo, Table: cfg.ProfilesTable},
		reports:  &services.DynamoReportSink{Dynamo: dynamo, Table: cfg.ReportsTable},
	}

	switch cfg.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.WithField("addr", cfg.RedisAddr).Info("Redis connected.")
		s.pool = services.NewRedisPool(rdb, nil)
		s.limits = services.NewRedisLimitStore(rdb, nil)
		s.closers = append(s.closers, rdb.Close)
	default:
		s.pool = services.NewDynamoPool(dynamo, cfg.WaitingPoolTable, nil)
		s.limits = services.NewDynamoLimitStore(dynamo, cfg.UsageCountersTable, cfg.CooldownsTable, nil)
	}
	return s, nil
}

func setupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("Unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func main() {
	cfg, err := config.Load(os.Getenv("SERVER_CONFIG"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStores(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize stores")
	}
	defer func() {
		for _, c := range st.closers {
			c()
		}
	}()

	// Initialize Services
	userProfileService := services.NewUserProfileService(st.profiles, nil)
	reportService := services.NewReportService(st.reports, nil)
	verifier := services.NewVerificationClient(cfg.VerificationURL, cfg.VerificationTimeout)

	limiter := services.NewRateLimiter(st.limits, cfg.DailyMatchLimit, cfg.Cooldown, nil)
	engine := services.NewMatchEngine(st.pool, cfg.PeekLimit, cfg.ClaimLease)
	sessions := services.NewSessionManager(userProfileService, nil)
	matchmaker := services.NewMatchmaker(st.pool, engine, limiter, sessions, userProfileService, cfg.MaxRequeueAttempt, nil)

	socketServer := socket.NewSocketServer(&socket.Handler{
		Auth:       services.NewGatewayAuth(nil),
		Matchmaker: matchmaker,
	})
	go func() {
		if err := socketServer.Serve(); err != nil {
			log.WithError(err).Error("❌ Socket server stopped")
		}
	}()
	defer socketServer.Close()

	go matchmaker.RunRematch(ctx, cfg.RematchInterval)

	// Initialize the router
	r := mux.NewRouter()
	routes.RegisterRoutes(r)
	routes.RegisterAPIRoutes(r, userProfileService, verifier, reportService)
	routes.RegisterSocketRoutes(r, socketServer)

	// Add CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Adjust for specific domains if needed
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Device-Id", "X-Device-Id"},
		AllowCredentials: true,
	}).Handler(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{"port": cfg.Port, "backend": cfg.Backend}).Info("🚀 Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Server failed")
	}
}
