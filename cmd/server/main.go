package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/auth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/cache"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/config"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/handlers"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/llm"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/mailer"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/oauth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories/postgres"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/validator"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/pkg"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.NewLogger("production", "info").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Environment, cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return err
	}
	if err := pkg.Migrate(db); err != nil {
		return err
	}

	cacheService := cache.NewMemoryCache()
	if cfg.RedisURL != "" {
		client, err := pkg.NewRedisClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		cacheService = cache.NewRedisCache(client, logger.Slog())
	} else {
		logger.Warn("REDIS_URL not set, lockout state is kept in process memory")
	}

	publisher, err := cfg.Events.CreateEventPublisher(logger.Slog())
	if err != nil {
		return err
	}
	defer publisher.Close()

	var provider oauth.Provider
	if casdoorCfg := (oauth.CasdoorConfig{
		Endpoint:     cfg.Casdoor.Endpoint,
		ClientID:     cfg.Casdoor.ClientID,
		ClientSecret: cfg.Casdoor.ClientSecret,
		Certificate:  cfg.Casdoor.Certificate,
		Organization: cfg.Casdoor.Organization,
		Application:  cfg.Casdoor.Application,
	}); casdoorCfg.Enabled() {
		casdoor, err := oauth.NewCasdoorProvider(casdoorCfg)
		if err != nil {
			return err
		}
		provider = casdoor
	} else {
		logger.Info("Casdoor is not configured, OAuth sign-in disabled")
	}

	chatModel := llm.NewOpenAIClient(llm.Config{
		APIKey:  cfg.LLM.ChatAPIKey,
		BaseURL: cfg.LLM.ChatBaseURL,
		Model:   cfg.LLM.ChatModel,
		Timeout: cfg.LLM.Timeout,
	})
	var visionModel llm.VisionModel
	if cfg.LLM.VisionAPIKey != "" {
		visionModel = llm.NewOpenAIClient(llm.Config{
			APIKey:  cfg.LLM.VisionAPIKey,
			BaseURL: cfg.LLM.VisionBaseURL,
			Model:   cfg.LLM.VisionModel,
			Timeout: cfg.LLM.Timeout,
		})
	} else {
		logger.Info("Vision model key not set, image attachments disabled")
	}

	deps := services.Deps{
		Repo:      postgres.NewRepository(db),
		Cache:     cacheService,
		Events:    publisher,
		Validator: validator.New(),
		Logger:    logger.Slog(),
		Now:       time.Now,
	}
	manager, err := services.NewServiceManager(deps, services.ManagerConfig{
		Mailer: mailer.New(mailer.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			UseTLS:   cfg.Mail.UseTLS,
			AppURL:   cfg.Mail.AppURL,
		}, logger.Slog()),
		OAuthProvider: provider,
		OAuthRedirect: cfg.Casdoor.RedirectURL,
		ChatModel:     chatModel,
		VisionModel:   visionModel,
		Tokens:        auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL),
		IdentityConfig: services.IdentityConfig{
			RefreshTTL: cfg.RefreshTTL,
			ResetTTL:   cfg.ResetTTL,
		},
		ProfileConfig: services.ProfileConfig{
			HODSecurityPIN:   cfg.HODSecurityPIN,
			AdminSecurityPIN: cfg.AdminSecurityPIN,
		},
		UploadConfig: services.UploadConfig{
			Dir:           cfg.Uploads.Dir,
			PublicBaseURL: cfg.Uploads.PublicBaseURL,
			MaxAge:        cfg.Uploads.MaxAge,
			SweepInterval: cfg.Uploads.SweepInterval,
			MaxBytes:      cfg.Uploads.MaxBytes,
		},
	})
	if err != nil {
		return err
	}
	manager.Upload().StartSweeper(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(manager, logger, cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("School portal listening", "addr", httpServer.Addr, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
