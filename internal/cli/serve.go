package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/chatrelay/internal/config"
	"github.com/harun/chatrelay/pkg/gateway"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket gateway",
	Long: `Run the chatrelay gateway. It serves the JSON session API, streams chat
replies as server-sent events on /api/chat, accepts websocket JSON-RPC on /ws
and exposes /metrics and /healthz. Stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, loader, cfg, cmd.ErrOrStderr())
}

// serve runs the gateway until ctx is cancelled
func serve(ctx context.Context, loader *config.Loader, cfg *config.Config, logOut io.Writer) error {
	a, err := newApp(cfg, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.createDefaultSession(ctx); err != nil {
		return err
	}

	if loader != nil {
		if err := loader.Watch(a.reloadCatalog); err != nil {
			a.logger.Debug().Err(err).Msg("Config hot reload disabled")
		}
	}

	server, err := gateway.NewServer(gateway.Config{
		Relay:           a.relay,
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Logger:          a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	a.logger.Info().
		Str("addr", server.Addr()).
		Str("upstream", cfg.Upstream.BaseURL).
		Int("models", len(a.catalog.List())).
		Msg("Starting chatrelay")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if n := a.relay.InFlight(); n > 0 {
			a.logger.Info().Int("turns", n).Msg("Waiting for in-flight turns to roll back")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info().Msg("chatrelay stopped")
	return nil
}
