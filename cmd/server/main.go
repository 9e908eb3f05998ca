package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"go-friendchat/internal/broadcast"
	"go-friendchat/internal/chat"
	"go-friendchat/internal/config"
	"go-friendchat/internal/db"
	"go-friendchat/internal/gateway"
	"go-friendchat/internal/logging"
	myMiddleware "go-friendchat/internal/middleware"
	"go-friendchat/internal/push"
	"go-friendchat/internal/registry"
	"go-friendchat/internal/user"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logging.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Database
	database, err := db.NewDatabase(cfg.Database.DSN, db.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer database.Close()
	log.Info().Msg("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx, cfg.Tables, cfg.Changes.Channel); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	// 3. Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	// 4. Registry and push fan-out
	reg := registry.NewRedisRegistry(rdb, cfg.Registry.KeyPrefix)
	transport := push.NewRedisTransport(rdb, cfg.Push.ChannelPrefix, push.BreakerSettings{
		Failures:         cfg.Push.BreakerFailures,
		OpenFor:          cfg.Push.BreakerOpenFor,
		HalfOpenRequests: cfg.Push.BreakerHalfOpenN,
	}, logging.With("push"))
	fanout := push.NewFanout(reg, transport, cfg.Fanout.MaxConcurrency, logging.With("fanout"))

	// 5. Features
	userRepo := user.NewRepository(database.Conn, cfg.Tables)
	userService := user.NewService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	userHandler := user.NewHandler(userService)

	chatRepo := chat.NewRepository(database.Conn)
	inbound := chat.NewInboundHandler(reg, chatRepo, fanout, cfg.Fanout.HandlerTimeout, logging.With("inbound"))
	statusService := chat.NewStatusService(chatRepo, fanout, cfg.Fanout.HandlerTimeout, logging.With("status"))
	chatHandler := chat.NewHandler(chat.NewConversationService(chatRepo), statusService, logging.With("chat"))

	hub := gateway.NewHub(rdb, cfg.Push.ChannelPrefix, logging.With("hub"))
	defer hub.Close()
	wsHandler := gateway.NewHandler(hub, gateway.NewLifecycle(reg, logging.With("gateway")), inbound, logging.With("gateway"))

	broadcaster := broadcast.NewHandler(cfg.Tables, cfg.Push.ChannelPrefix, userRepo, fanout, logging.With("broadcast"))

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(myMiddleware.AccessLog(logging.With("http")))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		hctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(hctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(hctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/friends", userHandler.ListFriends)

		// WebSocket (Real-time)
		r.Get("/ws", wsHandler.ServeWs)

		chatHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if cfg.Changes.Enabled {
		listener := broadcast.NewListener(cfg.Database.DSN, cfg.Changes, cfg.Fanout.HandlerTimeout, broadcaster, logging.With("changes"))
		g.Go(func() error { return listener.Run(gctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}
