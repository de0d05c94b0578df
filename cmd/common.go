package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/imagebatch/internal/auth"
	"github.com/lehigh-university-libraries/imagebatch/internal/config"
	"github.com/lehigh-university-libraries/imagebatch/internal/credentials"
	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
	"github.com/lehigh-university-libraries/imagebatch/internal/kvstore"
)

func openStore(ctx context.Context, cfg config.Config) (kvstore.Store, error) {
	store, err := kvstore.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	return store, nil
}

func openPool(ctx context.Context, store kvstore.Store) (*credentials.Pool, error) {
	pool := credentials.NewPool(store)
	if err := pool.Load(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

// newService returns the remote service when cfg.ServerURL is set and the
// in-process provider otherwise.
func newService(ctx context.Context, cfg config.Config, store kvstore.Store) (generation.Service, string, error) {
	if cfg.ServerURL != "" {
		token, err := remoteToken(ctx, cfg, store)
		if err != nil {
			return nil, "", err
		}
		slog.Info("Using remote generation service", "url", cfg.ServerURL, "authenticated", token != "")
		return generation.NewHTTPClient(cfg.ServerURL, token), "remote", nil
	}

	local, err := generation.NewLocal(cfg.Provider, cfg.Model)
	if err != nil {
		return nil, "", err
	}
	slog.Info("Using local generation service", "provider", local.Provider(), "model", local.Model())
	return local, local.Model(), nil
}

// remoteToken signs a token for the logged in identity when a shared secret is configured
func remoteToken(ctx context.Context, cfg config.Config, store kvstore.Store) (string, error) {
	if cfg.AuthSecret == "" {
		return "", nil
	}
	email, err := auth.NewIdentity(store).Email(ctx)
	if err != nil {
		return "", err
	}
	if email == "" {
		return "", fmt.Errorf("the server requires a token: run 'imagebatch login --email <address>' first")
	}
	tokens, err := auth.NewTokens(cfg.AuthSecret, 0)
	if err != nil {
		return "", err
	}
	return tokens.Issue(email)
}
