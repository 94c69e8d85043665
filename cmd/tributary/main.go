package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/internal/manager"
	"github.com/ajitpratap0/tributary/pkg/config"
	"github.com/ajitpratap0/tributary/pkg/connector/registry"
	"github.com/ajitpratap0/tributary/pkg/json"
	"github.com/ajitpratap0/tributary/pkg/logger"

	// Import all source connectors to register them
	_ "github.com/ajitpratap0/tributary/pkg/connector/sources"
)

var version = "0.1.0"

// errFailed marks a command whose result was printed but reported failure
var errFailed = fmt.Errorf("operation failed")

type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	a := &app{}
	root := a.rootCommand()
	if err := root.Execute(); err != nil {
		if err != errFailed {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tributary",
		Short: "Tributary - multi-tenant SaaS connector sync",
		Long: `Tributary extracts records from SaaS APIs (CRM, accounting, project and
marketing tools) per tenant and loads them into an analytics store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to config file (default ./tributary.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		versionCommand(),
		a.connectorsCommand(),
		a.createCommand(),
		a.testCommand(),
		a.tablesCommand(),
		a.syncCommand(),
		a.syncAllCommand(),
		a.removeCommand(),
		a.statusCommand(),
		a.serveCommand(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger.Get()
	registry.Default().SetLogger(a.logger)
	return nil
}

// withManager opens a manager for the duration of fn
func (a *app) withManager(ctx context.Context, fn func(*manager.Manager) error) error {
	mgr, err := manager.Open(ctx, a.cfg, registry.Default(), a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to close manager", zap.Error(err))
		}
	}()
	return fn(mgr)
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("Tributary v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// printJSON writes v to stdout
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// outcome prints a success/message pair and maps failure to errFailed
func outcome(ok bool, msg string, extra map[string]interface{}) error {
	out := map[string]interface{}{"success": ok, "message": msg}
	for k, v := range extra {
		out[k] = v
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if !ok {
		return errFailed
	}
	return nil
}

func parseTenant(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tenant id %q", raw)
	}
	return id, nil
}

// parsePairs turns key=value flags into a map
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
