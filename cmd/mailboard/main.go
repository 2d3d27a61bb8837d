package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"github.com/nhle/mailboard/internal/account"
	"github.com/nhle/mailboard/internal/credential"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/oauth"
	"github.com/nhle/mailboard/internal/server"
	"github.com/nhle/mailboard/internal/source"
	"github.com/nhle/mailboard/internal/source/gmail"
	"github.com/nhle/mailboard/internal/source/graph"
	"github.com/nhle/mailboard/internal/source/imapmail"
	"github.com/nhle/mailboard/internal/source/ticktick"
	"github.com/nhle/mailboard/internal/store"
	mailsync "github.com/nhle/mailboard/internal/sync"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", model.DefaultConfigPath, "path to the YAML config file")
	pflag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, logger); err != nil {
		logger.Error("mailboard stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *model.AppConfig, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	secret, err := appSecret(cfg, logger)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	cipher, err := credential.NewCipher(secret, credential.KDFParams{
		Salt:       cfg.Security.KDFSalt,
		Iterations: cfg.Security.KDFIterations,
	})
	if err != nil {
		return err
	}
	creds := credential.NewStore(cipher)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", "path", cfg.Database.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	states, rdb := oauth.NewStateRegistry(ctx, cfg.Redis, cfg.OAuth.StateTTL, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	if mem, ok := states.(*oauth.MemoryStateRegistry); ok {
		go mem.Run(ctx, time.Minute)
	}

	providers, err := oauth.NewProviders(cfg.Providers, cfg.App.BaseURL)
	if err != nil {
		return err
	}

	adapters := source.NewRegistry()
	adapters.Register(graph.NewAdapter(""), model.ProviderGraphMail, model.ProviderGraphMailShared)
	adapters.Register(gmail.NewAdapter("", cfg.Sync.Concurrency, logger), model.ProviderGmail)
	adapters.Register(imapmail.NewAdapter(nil, logger), model.ProviderIMAPYahoo, model.ProviderIMAPICloud)
	adapters.Register(ticktick.NewAdapter("", cfg.Sync.Concurrency, logger), model.ProviderTaskService)

	tokens := oauth.NewTokenManager(db, creds, providers, logger, oauth.WithRefreshBuffer(cfg.Sync.RefreshBuffer))
	cache := mailsync.New(db, creds, tokens, adapters, logger,
		mailsync.WithTTL(cfg.Sync.CacheTTL),
		mailsync.WithFetchTimeout(cfg.Sync.FetchTimeout),
		mailsync.WithLocation(loc),
	)
	accounts := account.NewService(db, creds, cache, logger)
	flow := oauth.NewFlow(db, creds, states, providers, logger)

	srv := server.New(server.Config{
		Secret:       []byte(secret),
		Pin:          cfg.App.Pin,
		FrontendURL:  cfg.App.FrontendURL,
		RateLimit:    cfg.Server.RateLimit,
		SecureCookie: strings.HasPrefix(cfg.App.BaseURL, "https://"),
		Providers:    cfg.Providers,
	}, accounts, cache, flow, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// appSecret returns the configured application secret. With
// app.secret_from_keyring set, the secret is read from the system keyring
// and created there on first start.
func appSecret(cfg *model.AppConfig, logger *slog.Logger) (string, error) {
	if !cfg.App.SecretFromKeyring {
		if cfg.App.SecretKey == "" {
			return "", errors.New("app.secret_key (APP_SECRET_KEY) is required")
		}
		return cfg.App.SecretKey, nil
	}

	ring, err := credential.OpenKeyring(credential.KeyringConfig{})
	if err != nil {
		return "", err
	}
	secret, err := ring.Get(credential.AppSecretKey)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, credential.ErrSecretNotFound) {
		return "", err
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating app secret: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(b)
	if err := ring.Set(credential.AppSecretKey, secret); err != nil {
		return "", err
	}
	logger.Info("generated app secret and stored it in the keyring")
	return secret, nil
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
