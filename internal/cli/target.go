package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/volley/internal/target"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Serve a local stand-in for the endpoints under test",
	Long: `Serve GET /metrics and a WebSocket echo on /ws for trying out configs locally.

  volley target --http-addr :8080 --ws-addr :8081
  volley run --config examples/ws-burst.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		wsAddr, _ := cmd.Flags().GetString("ws-addr")
		verbose, _ := cmd.Flags().GetBool("verbose")

		logger, err := newLogger(verbose, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		listeners, err := listenAll(httpAddr, wsAddr)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serveTarget(ctx, listeners, target.New(logger).Handler(), logger)
	},
}

// listenAll opens one listener per distinct address.
func listenAll(addrs ...string) ([]net.Listener, error) {
	seen := make(map[string]bool)
	var listeners []net.Listener
	for _, addr := range addrs {
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true

		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		listeners = append(listeners, l)
	}
	if len(listeners) == 0 {
		return nil, errors.New("no listen address given")
	}
	return listeners, nil
}

// serveTarget serves handler on every listener until ctx is done.
func serveTarget(ctx context.Context, listeners []net.Listener, handler http.Handler, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, l := range listeners {
		server := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 2 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		g.Go(func() error {
			logger.Info("target listening", zap.String("addr", l.Addr().String()))
			if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func init() {
	targetCmd.Flags().String("http-addr", ":8080", "Address for the HTTP endpoint")
	targetCmd.Flags().String("ws-addr", ":8081", "Address for the WebSocket endpoint")
	targetCmd.Flags().BoolP("verbose", "v", false, "Log every connection")
}
