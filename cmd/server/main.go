package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agentstream/realtime/api/handlers"
	"github.com/agentstream/realtime/internal/auth"
	"github.com/agentstream/realtime/internal/config"
	"github.com/agentstream/realtime/internal/db"
	"github.com/agentstream/realtime/internal/logger"
	"github.com/agentstream/realtime/internal/metrics"
	"github.com/agentstream/realtime/internal/repository"
	"github.com/agentstream/realtime/internal/ws"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	// Connection audit log (optional).
	var audit ws.EventRecorder
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			log.Fatal("create database directory", zap.Error(err))
		}
		database, err := db.InitDB(cfg.DBPath)
		if err != nil {
			log.Fatal("initialize database", zap.Error(err))
		}
		defer db.CloseDB()
		audit = repository.NewEventRepository(database)
	}

	// Token validation: JWT in production, a static token list in development.
	var validator auth.TokenValidator
	if len(cfg.DevTokens) > 0 {
		log.Warn("using static development tokens")
		validator = auth.NewStaticValidator(cfg.DevTokens...)
	} else {
		validator = auth.NewJWTValidator([]byte(cfg.JWTSecret))
	}

	m := metrics.New("agentstream")

	hub := ws.NewHub(ws.HubConfig{
		QueueSize:     cfg.SessionQueueSize,
		SweepInterval: cfg.SweepInterval,
		PingAfter:     cfg.PingAfter,
		IdleTimeout:   cfg.IdleTimeout,
	}, log, m, audit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	wsHandler := ws.NewHandler(hub, validator, nil, log)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	handlers.NewWebSocketHandler(wsHandler).RegisterRoutes(r)
	handlers.NewHealthHandler(hub).RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Info("starting realtime server", zap.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
}

// corsMiddleware returns a CORS middleware for the dashboard frontend.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
