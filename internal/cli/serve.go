package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/ricochet1k/termslots/internal/api"
	"github.com/ricochet1k/termslots/internal/config"
	"github.com/ricochet1k/termslots/internal/provider/pty"
	"github.com/ricochet1k/termslots/internal/service"
	"github.com/ricochet1k/termslots/internal/session"
)

const lockFileName = "termslots.lock"

var ErrDataDirLocked = errors.New("data directory is in use by another server")

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the slot server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.Listen = listen
			}
			log, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, log, nil)
		},
	}
	cmd.Flags().String("listen", "", "override the listen address")
	return cmd
}

// runServer serves until ctx is done. ready, when non-nil, receives the
// bound address once the listener is up.
func runServer(ctx context.Context, cfg *config.Config, log *slog.Logger, ready chan<- net.Addr) error {
	if !pty.Supported() {
		return fmt.Errorf("pseudo-terminals are not supported on this platform")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(cfg.DataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrDataDirLocked, cfg.DataDir)
	}
	defer lock.Unlock()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	slots := service.NewSlotManager(service.SlotManagerConfig{
		Profiles: store,
		Logger:   log,
		BridgeOptions: []session.Option{
			session.WithTick(cfg.Tick()),
			session.WithTranscriptSize(cfg.TranscriptSize),
		},
	})
	handler := api.NewHandler(slots, store, api.HandlerConfig{
		IdentityHeader: cfg.IdentityHeader,
		Logger:         log,
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("serving", "addr", ln.Addr().String(), "data_dir", cfg.DataDir, "store", cfg.Store.Driver)
	if ready != nil {
		ready <- ln.Addr()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = slots.Shutdown(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	httpErr := srv.Shutdown(shutdownCtx)
	slotErr := slots.Shutdown(shutdownCtx)
	return errors.Join(httpErr, slotErr)
}
