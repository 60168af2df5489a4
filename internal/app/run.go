package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"token-broker/internal/common/logging"
	"token-broker/internal/config"
)

// RunOptions are the serve command's flags
type RunOptions struct {
	ConfigPath string
	TLSCert    string
	TLSKey     string
	Version    string
	// Warm acquires a token for every destination before serving
	Warm bool
}

// Run loads the configuration, starts the status server and blocks until
// ctx is cancelled or the process receives SIGINT or SIGTERM.
func Run(ctx context.Context, opts RunOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	closer, err := logging.InitGlobalLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer logging.MustSync()

	logging.Info("Starting token broker",
		logging.String("version", opts.Version),
		logging.String("config", opts.ConfigPath),
	)

	app, err := New(cfg, opts.Version)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if opts.Warm {
		app.Warm(ctx)
	}

	srv := app.RunServer(opts.TLSCert, opts.TLSKey)
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	logging.Info("Status server listening", logging.String("addr", srv.Addr()))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logging.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}

// Warm acquires a token per destination. Failures are logged, not returned:
// a destination that is down at startup is retried on first use.
func (app *App) Warm(ctx context.Context) {
	for _, name := range app.Registry.Names() {
		if _, err := app.Registry.GetToken(ctx, name); err != nil {
			app.Logger.Warn("Initial token acquisition failed",
				logging.String("destination", name),
				logging.Err(err),
			)
		}
	}
}
