package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/invreserve/engine/internal/acs"
	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/config"
	"github.com/invreserve/engine/internal/dss"
)

// openACS wires the configured counter store. "mem://" is a local-dev
// escape hatch for running without Redis; anything else is parsed as a
// Redis connection URL.
func openACS(ctx context.Context, cfg *config.Config) (acs.Store, func() error, error) {
	if strings.HasPrefix(cfg.CounterStoreURL, "mem://") {
		m := acs.NewMemStore(clock.Real{})
		return m, func() error { m.Close(); return nil }, nil
	}
	store, err := acs.Open(ctx, acs.Config{
		URL:           cfg.CounterStoreURL,
		EventsEnabled: cfg.EventsEnabled,
		EventsStream:  cfg.EventsStreamName,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// openDSS wires the configured durable stock store.
func openDSS(ctx context.Context, cfg *config.Config) (dss.DurableStock, func() error, error) {
	switch cfg.DurableStoreDriver {
	case "mem":
		m := dss.NewMemStore()
		return m, func() error { return nil }, nil
	case "sqlite", "":
		store, err := dss.OpenSQLite(ctx, dss.SQLiteConfig{Path: cfg.DurableStoreDSN})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := dss.OpenPostgres(ctx, cfg.DurableStoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { store.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("durable-store-driver: unknown driver %q", cfg.DurableStoreDriver)
	}
}
