package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convo/internal/ai"
	"github.com/convo/internal/config"
	"github.com/convo/internal/fileserver"
	"github.com/convo/internal/handler"
	"github.com/convo/internal/logger"
	"github.com/convo/internal/middleware"
	"github.com/convo/internal/push"
	"github.com/convo/internal/repository"
	"github.com/convo/internal/startup"
	"github.com/convo/internal/storage"
	memorystorage "github.com/convo/internal/storage/memory"
	"github.com/convo/internal/ws"
	"github.com/convo/migrations"
)

const (
	assistantUsername = "convo-assistant"
	assistantEmail    = "assistant@convo.local"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory quota store")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	userRepo := repository.NewUserRepository(pool)
	groupRepo := repository.NewGroupRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	// Presence is derived from live connections; stale flags from a
	// previous run are lies.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := userRepo.ResetOnline(resetCtx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	var usageStore storage.AIUsageStore
	if *dev || cfg.Redis.URL == "" {
		logger.Info("using in-memory AI usage store")
		usageStore = memorystorage.New()
	} else {
		usageStore = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second)
	}
	defer usageStore.Close()

	var pushSender ws.PushNotifier
	var pushPublicKey string
	if cfg.PushVAPIDSubject != "" {
		sender, err := push.NewSender(pushRepo, cfg.PushVAPIDSubject, cfg.PushVAPIDKeysFile)
		if err != nil {
			logger.Errorf("web push init: %v", err)
			os.Exit(1)
		}
		pushSender = sender
		pushPublicKey = sender.PublicKey()
	} else {
		logger.Info("web push disabled (no VAPID subject configured)")
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(userRepo, groupRepo, msgRepo, cfg.MaxWSConnections, pushSender)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	authenticator := ws.NewAuthenticator(cfg.JWTSecret, cfg.JWTExpiry)
	files := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize, cfg.PublicBaseURL)
	aiClient := ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model)

	ensureCtx, ensureCancel := context.WithTimeout(context.Background(), 10*time.Second)
	assistant, err := userRepo.EnsureAssistant(ensureCtx, assistantUsername, assistantEmail)
	ensureCancel()
	if err != nil {
		logger.Errorf("ensure assistant user: %v", err)
		os.Exit(1)
	}

	authH := handler.NewAuthHandler(userRepo, authenticator)
	userH := handler.NewUserHandler(userRepo)
	groupH := handler.NewGroupHandler(groupRepo, userRepo)
	msgH := handler.NewMessageHandler(msgRepo, groupRepo, hub)
	aiH := handler.NewAIHandler(aiClient, usageStore, msgRepo, files, hub, assistant.ID, cfg.AI.DailyMessages, cfg.AI.DailyImages)
	fileH := handler.NewFileHandler(files)
	pushH := handler.NewPushHandler(pushRepo, pushPublicKey)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket upgrades: the wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Post("/api/auth/register", authH.Register)
	r.Post("/api/auth/login", authH.Login)
	r.Get("/api/files/{filename}", fileH.Serve)
	r.Get("/api/push/vapid-key", pushH.VAPIDKey)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(authenticator))
		r.Get("/api/users", userH.List)
		r.Get("/api/users/me", userH.Me)
		r.Put("/api/users/me", userH.UpdateMe)
		r.Get("/api/users/{id}", userH.Get)
		r.Post("/api/groups", groupH.Create)
		r.Get("/api/groups", groupH.List)
		r.Get("/api/groups/{id}", groupH.Get)
		r.Put("/api/groups/{id}", groupH.Update)
		r.Post("/api/groups/{id}/members", groupH.AddMember)
		r.Delete("/api/groups/{id}/members/{userID}", groupH.RemoveMember)
		r.Post("/api/messages", msgH.Send)
		r.Get("/api/messages/direct/{userID}", msgH.GetConversation)
		r.Get("/api/messages/group/{groupID}", msgH.GetGroupMessages)
		r.Delete("/api/messages/{id}", msgH.Delete)
		r.Post("/api/ai/message", aiH.Message)
		r.Get("/api/ai/usage", aiH.Usage)
		r.Post("/api/files/upload", fileH.Upload)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "convo"
		password = "convo_secret"
		database = "convo"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
