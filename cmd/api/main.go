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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/card-service/internal/clock"
	"github.com/Dan9191/card-service/internal/config"
	"github.com/Dan9191/card-service/internal/database"
	"github.com/Dan9191/card-service/internal/handler"
	"github.com/Dan9191/card-service/internal/logger"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/Dan9191/card-service/internal/scheduler"
	"github.com/Dan9191/card-service/internal/service"
	"github.com/Dan9191/card-service/internal/statement"
	"github.com/Dan9191/card-service/internal/utils"
	"github.com/Dan9191/card-service/internal/utils/email"
)

// store is what both storage drivers provide
type store interface {
	repository.CardStore
	repository.UserStore
	service.UserDirectory
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	log, logCloser, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, MaxAge: cfg.LogMaxAge})
	if err != nil {
		logrus.Fatalf("Failed to init logger: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var st store
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		log.Warn("Using in-memory storage; data is lost on restart")
		st = repository.NewMemoryStore(cfg.LockTimeout)
	default:
		db, err := database.Connect(database.Config{DSN: cfg.DBConn, MaxConns: cfg.DBMaxConns})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("Failed to prepare schema: %v", err)
		}
		st = repository.NewRepository(db, cfg.LockTimeout)
	}

	cipher, err := utils.NewCardCipher(cfg.CardEncryptionKey)
	if err != nil {
		log.Fatalf("Failed to init card cipher: %v", err)
	}
	clk := clock.NewReal()

	// Initialize layers
	cards := service.NewCardService(st, st, cipher, clk, log)
	transfers := service.NewTransferService(st, st, clk, log)
	users := service.NewUserService(st, st, service.AuthConfig{JWTSecret: cfg.JWTSecret, TokenTTL: cfg.JWTTTL}, clk, log)

	var sender *email.Sender
	if cfg.NotificationsEnabled() {
		sender = email.NewSender(cfg, log)
		cards.WithNotifier(sender)
		transfers.WithNotifier(sender)
	}

	if err := users.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatalf("Failed to create bootstrap admin: %v", err)
	}

	h, err := handler.NewHandler(cards, transfers, users, statement.NewRenderer(cfg.StatementInstitution), clk, log)
	if err != nil {
		log.Fatalf("Failed to init handlers: %v", err)
	}

	var sweeper *scheduler.ExpirySweeper
	if cfg.ExpirySweepSchedule != "" {
		sweeper, err = scheduler.NewExpirySweeper(cfg.ExpirySweepSchedule, cards, log)
		if err != nil {
			log.Fatalf("Failed to schedule expiry sweep: %v", err)
		}
		sweeper.Start()
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown failed")
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}
	if sender != nil {
		sender.Wait()
	}
	log.Info("Goodbye")
}
