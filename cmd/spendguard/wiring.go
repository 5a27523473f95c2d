package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/spendguard/spendguard/internal/app"
	"github.com/spendguard/spendguard/internal/config"
	"github.com/spendguard/spendguard/internal/llm"
	"github.com/spendguard/spendguard/internal/warehouse"
)

// buildStore resolves the data source: a YAML fixture for offline runs,
// otherwise the warehouse connection (optionally behind the redis
// cache).
func buildStore(cfg *config.Config, fixture string) (warehouse.Store, warehouse.AuditLogger, func(), error) {
	var store warehouse.Store
	var audit warehouse.AuditLogger = warehouse.NopAudit{}
	cleanup := func() {}

	switch {
	case fixture != "":
		mem, err := warehouse.LoadFixture(fixture, time.Now)
		if err != nil {
			return nil, nil, nil, err
		}
		store = mem
		log.Info().Str("fixture", fixture).Msg("running on fixture store")
	case cfg.Warehouse.DSN != "":
		pg, err := warehouse.NewPostgresStore(cfg.Warehouse.DSN, cfg.Tenants, cfg.QueryTimeout())
		if err != nil {
			return nil, nil, nil, err
		}
		store = pg
		audit = warehouse.NewPostgresAudit(pg.DB(), cfg.QueryTimeout())
		cleanup = func() { _ = pg.Close() }

		if cfg.Cache.Enabled {
			client := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr, DB: cfg.Cache.DB})
			store = warehouse.NewCachedStore(store, client, cfg.CacheTTL())
			log.Info().Str("addr", cfg.Cache.Addr).Msg("warehouse cache enabled")
		}
	default:
		return nil, nil, nil, fmt.Errorf("no data source: set WAREHOUSE_DSN or pass --fixture")
	}
	return store, audit, cleanup, nil
}

// loadConfig reads the --config flag from the command or its parents.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath, _ = cmd.InheritedFlags().GetString("config")
	}
	return config.Load(cfgPath)
}

// buildCore assembles the pipeline from config plus an optional fixture
// path. With a fixture the core runs fully offline on the in-memory
// store and the deterministic rule client.
func buildCore(cmd *cobra.Command, fixture string) (*app.Core, *config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	store, audit, cleanup, err := buildStore(cfg, fixture)
	if err != nil {
		return nil, nil, nil, err
	}

	var client llm.Client
	switch cfg.Model.Provider {
	case "", "rules":
		client = llm.NewRuleClient()
	case "http":
		if cfg.Model.Endpoint == "" {
			return nil, nil, nil, fmt.Errorf("model.provider=http requires model.endpoint")
		}
		client = llm.NewHTTPClient(llm.HTTPConfig{
			Endpoint:    cfg.Model.Endpoint,
			Model:       cfg.Model.Name,
			APIKey:      cfg.Model.APIKey,
			Timeout:     cfg.ModelTimeout(),
			CallsPerSec: cfg.Model.CallsPerSec,
		})
	default:
		return nil, nil, nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}

	core, err := app.New(cfg, store, client, audit)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return core, cfg, cleanup, nil
}
