package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookrec/internal/app"
	"bookrec/internal/config"
	"bookrec/internal/monitor"
	"bookrec/internal/ratelimit"
	"bookrec/internal/server"
	"bookrec/internal/util"
	"bookrec/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	if sessionTTL == 0 {
		sessionTTL = 24 * time.Hour
	}

	logger, err := util.InitLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	var sessions store.SessionStore
	if cfg.SessionStrategy == "jwt" {
		sessions, err = store.NewJWTSessionStore(cfg.SessionSecret, "bookrec", sessionTTL)
		if err != nil {
			log.Fatalf("failed to init jwt sessions: %v", err)
		}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		SessionTTL:    sessionTTL,
		CatalogPath:   cfg.CatalogPath,
		Sessions:      sessions,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var signupLimiter, loginLimiter server.Limiter
	if cfg.SignupRateLimitPerMinute > 0 {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "signup", cfg.SignupRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init signup limiter: %v", err)
		}
		signupLimiter = l
	}
	if cfg.LoginRateLimitPerMinute > 0 {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
		loginLimiter = l
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mon *monitor.Monitor
	if cfg.LogFile != "" {
		mon = monitor.New(appCore, monitor.Config{
			LogPath:        cfg.LogFile,
			Interval:       time.Duration(cfg.MonitorIntervalSeconds) * time.Second,
			ErrorThreshold: cfg.MonitorErrorThreshold,
		})
		go mon.Run(ctx)
	}

	httpServer := server.New(server.Config{
		App:           appCore,
		Monitor:       mon,
		LogPath:       cfg.LogFile,
		AppOrigin:     cfg.AppOrigin,
		SessionTTL:    sessionTTL,
		SignupLimiter: signupLimiter,
		LoginLimiter:  loginLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("bookrec server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
