package app

import (
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
	"token-broker/internal/metrics"
	"token-broker/internal/tokens"
)

// App holds all the application dependencies
type App struct {
	Config     *config.Config
	Registry   *tokens.Registry
	Prometheus *metrics.Prometheus
	Logger     logging.Logger
	Version    string
}

// New builds a token manager per configured destination. Metrics are
// collected only when enabled in the configuration.
func New(cfg *config.Config, version string) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
		Version: version,
	}

	destinations, err := cfg.ToDestinations()
	if err != nil {
		return nil, err
	}

	var sink metrics.Sink = metrics.Nop{}
	if cfg.Metrics.IsEnabled() {
		app.Prometheus = metrics.NewPrometheus()
		sink = app.Prometheus
	}

	app.Registry, err = tokens.Build(destinations, tokens.BuildOptions{
		Metrics: sink,
		Logger:  logging.GetGlobalLogger(),
	})
	if err != nil {
		return nil, err
	}

	app.Logger.Info("Token broker initialized",
		logging.Int("destinations", len(destinations)),
		logging.Bool("metrics", cfg.Metrics.IsEnabled()),
	)
	return app, nil
}

// Cleanup wipes every cached token and vault key
func (app *App) Cleanup() {
	if app.Registry != nil {
		app.Registry.Close()
	}
}
