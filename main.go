package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"lanlink/config"
	"lanlink/storage"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "lanlink",
	Short: "Local-network device pairing, sync, and remote control",
	Long: `lanlink pairs devices on the local network, keeps their shared
resources in sync, and bridges remote commands to an approved peer.

Run "lanlink serve" on the device that accepts connections and
"lanlink connect" on the device that initiates them.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// resourceRegistry is the fixed set of logical resources replicated
// between paired devices.
var resourceRegistry = []struct {
	name string
	kind string
}{
	{"tasks", storage.ResourceKindCollection},
	{"macros", storage.ResourceKindCollection},
	{"settings", storage.ResourceKindFlat},
}

// openApp loads the device config and opens the local store with every
// registry resource present.
func openApp() (*config.DeviceConfig, *storage.Store, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	store, dbPath, err := storage.Open(filepath.Dir(cfgPath))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	for _, resource := range resourceRegistry {
		if err := store.RegisterResource(resource.name, resource.kind); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("register resource %q: %w", resource.name, err)
		}
	}

	slog.Debug("application opened", "config", cfgPath, "database", dbPath)
	return cfg, store, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, connectCmd, devicesCmd, approvalsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
