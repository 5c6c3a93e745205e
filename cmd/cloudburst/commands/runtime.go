package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudburst-io/cloudburst/pkg/config"
	"github.com/cloudburst-io/cloudburst/pkg/control"
	"github.com/cloudburst-io/cloudburst/pkg/localstate"
	"github.com/cloudburst-io/cloudburst/pkg/providers/httpendpoint"
	"github.com/cloudburst-io/cloudburst/pkg/remotestate"
	"github.com/cloudburst-io/cloudburst/pkg/stores"
	"github.com/cloudburst-io/cloudburst/pkg/telemetry"
)

// loadConfig reads the framework configuration and applies global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return cfg, nil
}

// buildTelemetry assembles tracing and metrics from configuration and
// serves the metrics endpoint when enabled. Callers must Shutdown the
// returned instance.
func buildTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry.Metrics.Enabled {
		go func() {
			if err := tel.Metrics.StartMetricsServer(); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}
	return tel, nil
}

// buildRemoteStore creates the backend manifest-store client.
func buildRemoteStore(cfg *config.Config, tel *telemetry.Telemetry) (*remotestate.Client, error) {
	return remotestate.NewClient(cfg.RemoteStore.BaseURL,
		remotestate.WithAPIKey(cfg.RemoteStore.APIKey),
		remotestate.WithMaxRetries(cfg.RemoteStore.MaxRetries),
		remotestate.WithBackoffBase(cfg.RemoteStore.BackoffBase.Std()),
		remotestate.WithHTTPClient(&http.Client{Timeout: cfg.RemoteStore.RequestTimeout.Std()}),
		remotestate.WithRetryObserver(tel.Metrics.RecordStoreRetry),
		remotestate.WithLogger(log.With().Str("component", "remotestate").Logger()),
	)
}

// buildProviderClient creates the endpoint management API client.
func buildProviderClient(cfg *config.Config) (*httpendpoint.ProviderClient, error) {
	if cfg.Provider.BaseURL == "" {
		return nil, fmt.Errorf("provider.base_url is required for this command")
	}
	return httpendpoint.NewProviderClient(cfg.Provider.BaseURL,
		httpendpoint.WithAPIKey(cfg.Provider.APIKey),
		httpendpoint.WithLogger(log.With().Str("component", "provider").Logger()),
	), nil
}

// buildManager creates the deployment manager backed by the local state
// file, with a resolver that rehydrates provider endpoints.
func buildManager(ctx context.Context, cfg *config.Config, provider *httpendpoint.ProviderClient) (*control.Manager, error) {
	store := localstate.NewFileStore(cfg.StatePath)
	return control.NewManager(ctx, store,
		control.WithResolver(httpendpoint.Resolver(provider)),
		control.WithManagerLogger(log.With().Str("component", "manager").Logger()),
	)
}

// buildHistory opens the run-history store when enabled. Callers must
// Close the returned store; a nil store means history is disabled.
func buildHistory(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.History.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	history, err := stores.NewSQLiteStore(stores.Config{Path: cfg.History.Path})
	if err != nil {
		return nil, err
	}
	if err := history.Init(ctx); err != nil {
		return nil, err
	}
	if err := history.Migrate(ctx); err != nil {
		history.Close()
		return nil, err
	}
	return history, nil
}
