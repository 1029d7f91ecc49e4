package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovpn-manager/ovpn-manager/internal/api"
	"github.com/ovpn-manager/ovpn-manager/internal/auth"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/crypto"
	"github.com/ovpn-manager/ovpn-manager/internal/database"
	"github.com/ovpn-manager/ovpn-manager/internal/ovpn"
	"github.com/ovpn-manager/ovpn-manager/internal/runner"
	"github.com/ovpn-manager/ovpn-manager/internal/service"
	"github.com/ovpn-manager/ovpn-manager/internal/session"
	"github.com/ovpn-manager/ovpn-manager/internal/tlscrypt"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	flags, configFile, showVersion, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// Handle version flag
	if showVersion {
		fmt.Printf("OVPN Manager v%s\n", version)
		os.Exit(0)
	}

	if flags.GenerateEncryptionKey() {
		if err := printEncryptionKey(os.Stdout); err != nil {
			log.Fatalf("Failed to generate encryption key: %v", err)
		}
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if dir := flags.GenerateDevCA(); dir != "" {
		if err := writeDevCA(cfg, dir); err != nil {
			logger.Fatal("Failed to generate development CA", zap.Error(err))
		}
		logger.Info("Development CA written", zap.String("directory", dir))
		return
	}

	if subject := flags.IssueTaskToken(); subject != "" {
		if err := printTaskToken(os.Stdout, cfg, subject); err != nil {
			logger.Fatal("Failed to issue task token", zap.Error(err))
		}
		return
	}

	logger.Info("Starting OVPN Manager",
		zap.String("version", version),
		zap.String("database", cfg.Database.Type),
	)

	// Startup material is required before anything is served
	if err := cfg.ValidateStartupMaterial(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	encryptionKey, err := cfg.EncryptionKeyBytes()
	if err != nil {
		logger.Fatal("Invalid encryption key", zap.Error(err))
	}

	ca, err := crypto.LoadCA(cfg.Crypto.CACertPath, cfg.Crypto.CAKeyPath, cfg.Crypto.CAKeyPassword)
	if err != nil {
		logger.Fatal("Failed to load CA", zap.Error(err))
	}
	logger.Info("Loaded CA", zap.String("subject", ca.Certificate.Subject.String()))

	fs := afero.NewOsFs()
	composer, err := ovpn.Load(fs, cfg.Templates.Path, cfg.Templates.OptionSetsPath, logger)
	if err != nil {
		logger.Fatal("Failed to load templates", zap.Error(err))
	}

	tunnelKeys := tlscrypt.NewProvider(fs, cfg.TLSCrypt.KeyPath, cfg.TLSCrypt.OpenVPNBinary, runner.New(logger), logger)
	if !tunnelKeys.Enabled() {
		logger.Info("No tls-crypt key configured; configurations will not carry a tunnel key")
	}

	// Initialize database
	db, err := database.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	provider, err := auth.NewProvider(startupCtx, cfg.OIDC, logger)
	cancelStartup()
	if err != nil {
		logger.Fatal("Failed to initialize OIDC provider", zap.Error(err))
	}

	tokenService := service.NewTokenService(db, encryptionKey, logger)
	issuanceService := service.NewIssuanceService(db, ca, composer, tunnelKeys, cfg, encryptionKey, logger)

	// Initialize router
	handler := api.NewHandler(cfg, &api.Dependencies{
		Sessions:      session.New(cfg.Session),
		Authenticator: provider,
		Issuer:        issuanceService,
		Tokens:        tokenService,
		DB:            db,
		OptionSets:    composer.OptionSetNames(),
	}, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("address", srv.Addr),
			zap.Bool("tls", cfg.Server.TLSEnabled),
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Set log level
	switch cfg.Logging.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.Logging.Output != "" && cfg.Logging.Output != "stdout" {
		zapConfig.OutputPaths = []string{cfg.Logging.Output}
	}

	return zapConfig.Build()
}
