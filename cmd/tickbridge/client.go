package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/marco308/ticktick-bridge/internal/auth"
	"github.com/marco308/ticktick-bridge/internal/config"
	"github.com/marco308/ticktick-bridge/internal/ticktick"
)

// newAuthManager builds the OAuth manager from the config credentials.
func newAuthManager(cfg *config.Config, logger *log.Logger) (*auth.Manager, error) {
	mgr, err := auth.NewManager(cfg.ClientID, cfg.ClientSecret, logger)
	if err != nil {
		return nil, fmt.Errorf("set client_id and client_secret in the config file or TICKBRIDGE_CLIENT_ID / TICKBRIDGE_CLIENT_SECRET: %w", err)
	}
	return mgr, nil
}

// newClient builds an authenticated TickTick API client. It fails with
// auth.ErrNoToken when no login has happened yet.
func newClient(ctx context.Context, cfg *config.Config, logger *log.Logger) (*ticktick.Client, error) {
	mgr, err := newAuthManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	hc, err := mgr.Client(ctx)
	if err != nil {
		return nil, err
	}
	return ticktick.New(hc, ticktick.WithLogger(logger)), nil
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, "["+prefix+"] ", log.LstdFlags)
}
