package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevemurr/json-mock-server/config"
	"github.com/stevemurr/json-mock-server/handler"
	"github.com/stevemurr/json-mock-server/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigFile string
	Host       string
	Port       int
	Backend    string
	Origins    string
	Seed       string

	// ready is called with the bound address once the listener is open.
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(rootOpts, nil)
}

func newServeCommand(rootOpts *RootOptions, ready func(addr string)) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts, ready: ready}

	cmd := &cobra.Command{
		Use:   "serve [data-file]",
		Short: "Serve a data file over HTTP",
		Long: `Load the data file and serve its collections over HTTP.

Settings are resolved in this order, later ones winning: built-in defaults,
the HCL file given with --config, the environment (HOST, PORT, STORE_BACKEND,
DATA_FILE, SEED_FILE, ALLOWED_ORIGINS), then command-line flags.

Example:
  json-mock-server serve db.json
  json-mock-server serve --port 8080 --origins http://localhost:5173 db.yaml
  json-mock-server serve --backend sqlite --seed db.json ./data/mock.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd, args)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), opts, cfg, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to an HCL config file")
	cmd.Flags().StringVar(&opts.Host, "host", "", "listen host (default 127.0.0.1)")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "listen port (default 3000)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "store backend: json, sqlite or memory (default: from file extension)")
	cmd.Flags().StringVar(&opts.Origins, "origins", "", "comma separated CORS origins (default *)")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "JSON or YAML file imported when the store is empty")

	return cmd
}

func (o *ServeOptions) resolve(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg := config.Default()
	if o.ConfigFile != "" {
		if err := cfg.LoadFile(o.ConfigFile); err != nil {
			return cfg, WrapExitError(ExitCommandError, "invalid config file", err)
		}
	}
	if err := cfg.LoadEnv(os.Getenv); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid environment", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = o.Host
	}
	if flags.Changed("port") {
		cfg.Port = o.Port
	}
	if flags.Changed("backend") {
		cfg.Backend = o.Backend
	}
	if flags.Changed("origins") {
		cfg.AllowedOrigins = config.SplitOrigins(o.Origins)
	}
	if flags.Changed("seed") {
		cfg.Seed = o.Seed
	}
	if len(args) == 1 {
		cfg.DataFile = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid settings", err)
	}
	return cfg, nil
}

// openRegistry opens the configured backend, seeds it if asked and loads it.
func openRegistry(cfg config.Config, opts ...store.RegistryOption) (*store.Registry, error) {
	p, err := store.Open(cfg.Backend, cfg.DataFile)
	if err != nil {
		return nil, err
	}
	if cfg.Seed != "" {
		if _, err := store.Seed(p, cfg.Seed); err != nil {
			p.Close()
			return nil, err
		}
	}
	reg, err := store.NewRegistry(p, opts...)
	if err != nil {
		p.Close()
		return nil, err
	}
	return reg, nil
}

func runServer(ctx context.Context, opts *ServeOptions, cfg config.Config, cmd *cobra.Command) error {
	logger := opts.Logger(cmd.ErrOrStderr())

	reg, err := openRegistry(cfg, store.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load data", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("closing store", "err", err)
		}
	}()

	h := handler.New(reg, handler.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Logger:         logger,
	})
	srv := &http.Server{
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	logger.Info("json mock server listening",
		"addr", ln.Addr().String(),
		"file", cfg.DataFile,
		"collections", len(reg.Names()))
	if opts.ready != nil {
		opts.ready(ln.Addr().String())
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "graceful shutdown failed", err)
	}
	logger.Info("stopped")
	return nil
}
