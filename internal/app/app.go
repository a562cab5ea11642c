package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"email-extractor-go/internal/config"
	"email-extractor-go/internal/database"
	"email-extractor-go/internal/handler"
	"email-extractor-go/internal/mailbox"
	"email-extractor-go/internal/metrics"
	"email-extractor-go/internal/repository"
	"email-extractor-go/internal/router"
	"email-extractor-go/internal/scheduler"
	"email-extractor-go/internal/service"
)

// Run initializes and starts the application
func Run() error {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file loaded")
	}

	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	setLogLevel(cfg.Log.Level)

	logrus.Info("Starting Email Extractor Service")

	dbConn, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := repository.New(dbConn)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	session := mailbox.NewSession(mailbox.Config{
		Host:               cfg.IMAP.Host,
		Port:               cfg.IMAP.Port,
		User:               cfg.IMAP.User,
		Password:           cfg.IMAP.Password,
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
	})

	ctx := context.Background()

	otpStore, closeStore, err := newOTPStore(cfg)
	if err != nil {
		return err
	}
	mailer, err := newMailer(ctx, cfg)
	if err != nil {
		return err
	}

	authSvc := service.NewAuthService(cfg.Auth, repo)
	otpSvc := service.NewOTPService(otpStore, mailer, cfg.OTP.OTPExpiry(), m)
	processor := service.NewProcessor(session, repo, afero.NewOsFs(), cfg.Storage.DownloadDir, m)
	formatter := service.NewFormatter(repo, m)

	sched := scheduler.NewScheduler(time.Duration(cfg.OTP.SweepIntervalMinutes)*time.Minute, otpSvc)

	h := handler.NewHandlers(handler.Dependencies{
		Auth:              authSvc,
		OTP:               otpSvc,
		Mailbox:           session,
		Ingestor:          processor,
		Exporter:          formatter,
		Store:             repo,
		Sweeper:           sched,
		Metrics:           m,
		ProtectDataRoutes: cfg.Auth.ProtectDataRoutes,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h, cfg.Server.Mode),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// connect eagerly; requests retry on their own if this fails
	go func() {
		if err := session.Connect(ctx); err != nil {
			logrus.WithError(err).Warn("Initial IMAP connection failed")
		}
	}()

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := session.Disconnect(); err != nil {
		logrus.Errorf("Failed to close IMAP session: %v", err)
	}
	if err := closeStore(); err != nil {
		logrus.Errorf("Failed to close OTP store: %v", err)
	}
	if sqlDB, err := dbConn.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

func setLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// newOTPStore builds the configured OTP store and a func releasing it
func newOTPStore(cfg *config.Config) (service.OTPStore, func() error, error) {
	switch cfg.OTP.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logrus.WithField("addr", cfg.Redis.Addr).Info("Using Redis OTP store")
		return service.NewRedisOTPStore(rdb), rdb.Close, nil
	case "memory", "":
		logrus.Info("Using in-memory OTP store")
		return service.NewMemoryOTPStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported otp store %q", cfg.OTP.Store)
	}
}

// newMailer builds the configured OTP delivery channel
func newMailer(ctx context.Context, cfg *config.Config) (service.Mailer, error) {
	switch cfg.OTP.Mailer {
	case "smtp":
		logrus.WithField("host", cfg.SMTP.Host).Info("Sending OTP mail over SMTP")
		return service.NewSMTPMailer(cfg.SMTP), nil
	case "gmail_api":
		m, err := service.NewGmailAPIMailer(ctx, cfg.Gmail)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail API mailer: %w", err)
		}
		logrus.Info("Sending OTP mail through the Gmail API")
		return m, nil
	case "log":
		logrus.Warn("OTP mailer is log; codes are written to the log only")
		return service.LogMailer{}, nil
	default:
		return nil, fmt.Errorf("unsupported otp mailer %q", cfg.OTP.Mailer)
	}
}
