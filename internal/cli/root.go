package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/termslots/internal/config"
	"github.com/ricochet1k/termslots/internal/storage"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "termslots",
		Short:         "termslots: shared terminal game slots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("termslots {{.Version}}\n")

	cmd.PersistentFlags().String("config", getenvDefault("TERMSLOTS_CONFIG", ""), "path to a YAML config file")
	cmd.PersistentFlags().String("data-dir", "", "override the data directory")
	cmd.PersistentFlags().String("store", "", "override the store driver (sqlite|json)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newMOTDCmd())
	cmd.AddCommand(newMaxSlotsCmd())
	cmd.AddCommand(newAddressCmd())

	return cmd
}

// loadConfig reads the config named by --config and applies the root flag
// overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Root().PersistentFlags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := flags.GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if driver, _ := flags.GetString("store"); driver != "" {
		cfg.Store.Driver = driver
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg.Store.Driver, cfg.DataDir, cfg.Store.Path)
}

// withStore runs fn against the configured store and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s storage.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
