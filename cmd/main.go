package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dtroode/kurasi/internal/api/http/handler"
	"github.com/dtroode/kurasi/internal/api/http/router"
	httpServer "github.com/dtroode/kurasi/internal/api/http/server"
	"github.com/dtroode/kurasi/internal/cart"
	"github.com/dtroode/kurasi/internal/config"
	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/metrics"
	"github.com/dtroode/kurasi/internal/model"
	"github.com/dtroode/kurasi/internal/notify"
	"github.com/dtroode/kurasi/internal/repository/postgres"
	"github.com/dtroode/kurasi/internal/review"
	"github.com/dtroode/kurasi/internal/server"
	"github.com/dtroode/kurasi/internal/service"
	"github.com/dtroode/kurasi/internal/session"
	"github.com/dtroode/kurasi/internal/storage/bolt"
	"github.com/dtroode/kurasi/internal/storage/memory"
	storage "github.com/dtroode/kurasi/internal/storage/minio"
	"github.com/dtroode/kurasi/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

// app holds the handles UI code is given.
type app struct {
	sessions *session.Manager
	cart     *cart.Store
	toasts   *notify.Queue
	reviews  *review.Gate
	checkout *service.Checkout
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	db, err := postgres.NewConection(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	profileRepo := postgres.NewProfileRepository(db)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(db)
	orderRepo := postgres.NewOrderRepository(db)
	reviewRepo := postgres.NewReviewRepository(db)

	minioClient, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal("failed to create minio client", "error", err)
	}
	blobs, err := storage.NewClient(ctx, minioClient, cfg.Storage.PublicURL, cfg.Storage.ReviewBucket)
	if err != nil {
		logger.Fatal("failed to initialize storage client", "error", err)
	}

	kv, closeKV := openDeviceStorage(cfg.Cart.StoragePath, logger)
	defer closeKV()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	tokenManager := token.NewJWT(cfg.JWT.Secret)
	tokenService := service.NewTokenService(tokenManager, refreshTokenRepo, userRepo, logger)
	identity := service.NewIdentity(userRepo, profileRepo, tokenService, kv, logger)

	a := &app{
		sessions: session.NewManager(identity, profileRepo, logger,
			session.WithWatchdog(cfg.Session.Watchdog),
			session.WithMetrics(recorder)),
		cart:   cart.New(kv, logger, cart.WithKey(cfg.Cart.StorageKey)),
		toasts: notify.New(cfg.Toast.TTL, logger),
		reviews: review.NewGate(orderRepo, reviewRepo, blobs, logger,
			review.WithBucket(cfg.Storage.ReviewBucket),
			review.WithMetrics(recorder)),
		checkout: service.NewCheckout(orderRepo, logger),
	}
	defer a.toasts.Close()
	defer a.sessions.Close()

	if err := a.sessions.Start(ctx); err != nil {
		logger.Fatal("failed to start session manager", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchSession(a, logger)
	}()

	health := handler.NewHealth(a.sessions, db, logger)
	r := router.New(health, metrics.Handler(registry), recorder, logger)
	opsServer := httpServer.NewHTTPServer(r.Register(), fmt.Sprintf(":%s", cfg.HTTP.Port))
	sl := server.NewSecurityLayer(cfg.HTTP.EnableHTTPS, cfg.HTTP.CertFileName, cfg.HTTP.PrivateKeyFileName)

	wg.Add(1)
	go func(s model.Server) {
		defer wg.Done()
		logger.Info("Starting server on", "address", s.Address())
		if err := s.Start(sl); err != nil {
			logger.Error("failed to start server", "error", err)
		}
	}(opsServer)

	logAppVersion()
	logger.Info("cart restored",
		"items", a.cart.Len(),
		"total", a.cart.FormatTotal())

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := opsServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err, "address", opsServer.Address())
	}
	a.sessions.Close()

	wg.Wait()
	logger.Info("shutdown complete")
}

// openDeviceStorage opens the bolt file, falling back to memory so the
// cart and stored tokens still work for this run.
func openDeviceStorage(path string, logger *logger.Logger) (model.KeyValueStore, func()) {
	store, err := bolt.Open(path)
	if err != nil {
		logger.Warn("device storage unavailable, keeping state in memory",
			"path", path,
			"error", err.Error())
		return memory.New(), func() {}
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close device storage", "error", err)
		}
	}
}

// watchSession announces identity changes until the manager is closed.
func watchSession(a *app, logger *logger.Logger) {
	updates, cancel := a.sessions.Watch()
	defer cancel()

	prev := session.StateBootstrapping
	for snap := range updates {
		if snap.State == prev {
			continue
		}
		switch {
		case snap.State == session.StateAnonymous && prev != session.StateBootstrapping:
			a.toasts.Info("You have been signed out")
		case snap.State == session.StateAuthenticated && prev != session.StateProfileEnriched:
			a.toasts.Success(fmt.Sprintf("Signed in as %s", snap.Session.Email))
		}
		logger.Info("session state",
			"state", snap.State.String(),
			"role", string(snap.Role()))
		prev = snap.State
	}
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
