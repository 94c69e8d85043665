package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/internal/api"
	"github.com/ajitpratap0/tributary/internal/manager"
	"github.com/ajitpratap0/tributary/internal/scheduler"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/connector/registry"
	"github.com/ajitpratap0/tributary/pkg/observability"
)

// tenantCommand builds a "<use> <tenant> <type>" command around fn
func (a *app) tenantCommand(use, short string, fn func(ctx context.Context, mgr *manager.Manager, tenantID int64, connectorType string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tenant> <type>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenant(args[0])
			if err != nil {
				return err
			}
			return a.withManager(cmd.Context(), func(mgr *manager.Manager) error {
				return fn(cmd.Context(), mgr, tenantID, args[1])
			})
		},
	}
}

func (a *app) connectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List connector types and their required credentials",
		RunE: func(*cobra.Command, []string) error {
			return printJSON(registry.Default().Infos())
		},
	}
}

func (a *app) createCommand() *cobra.Command {
	var creds, cfg []string
	cmd := a.tenantCommand("create", "Validate credentials, test the API and store a connector",
		func(ctx context.Context, mgr *manager.Manager, tenantID int64, connectorType string) error {
			credMap, err := parsePairs(creds)
			if err != nil {
				return err
			}
			cfgMap, err := parsePairs(cfg)
			if err != nil {
				return err
			}
			ok, msg := mgr.CreateConnector(ctx, tenantID, connectorType, core.RawCredentials(credMap), cfgMap)
			return outcome(ok, msg, nil)
		})
	cmd.Flags().StringArrayVar(&creds, "cred", nil, "Credential as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&cfg, "set", nil, "Connector option as key=value, e.g. base_url=... (repeatable)")
	return cmd
}

func (a *app) testCommand() *cobra.Command {
	return a.tenantCommand("test", "Test the connection of a stored connector",
		func(ctx context.Context, mgr *manager.Manager, tenantID int64, connectorType string) error {
			ok, msg := mgr.TestConnector(ctx, tenantID, connectorType)
			return outcome(ok, msg, nil)
		})
}

func (a *app) tablesCommand() *cobra.Command {
	return a.tenantCommand("tables", "List the tables a connector can extract",
		func(ctx context.Context, mgr *manager.Manager, tenantID int64, connectorType string) error {
			ok, tables, msg := mgr.GetConnectorTables(ctx, tenantID, connectorType)
			return outcome(ok, msg, map[string]interface{}{"tables": tables})
		})
}

func (a *app) syncCommand() *cobra.Command {
	var tables []string
	var full bool
	cmd := a.tenantCommand("sync", "Extract and load tables of one connector",
		func(ctx context.Context, mgr *manager.Manager, tenantID int64, connectorType string) error {
			res := mgr.Sync(ctx, tenantID, connectorType, manager.SyncOptions{Tables: tables, Full: full})
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return errFailed
			}
			return nil
		})
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "Tables to sync (default: all)")
	cmd.Flags().BoolVar(&full, "full", false, "Ignore the watermark and backfill every record")
	return cmd
}

func (a *app) syncAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all <tenant>",
		Short: "Sync every connector of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenant(args[0])
			if err != nil {
				return err
			}
			return a.withManager(cmd.Context(), func(mgr *manager.Manager) error {
				results := mgr.SyncAllConnectors(cmd.Context(), tenantID)
				if err := printJSON(results); err != nil {
					return err
				}
				for _, res := range results {
					if !res.Success {
						return errFailed
					}
				}
				return nil
			})
		},
	}
}

func (a *app) removeCommand() *cobra.Command {
	return a.tenantCommand("remove", "Remove a connector and its stored credentials",
		func(ctx context.Context, mgr *manager.Manager, tenantID int64, connectorType string) error {
			if mgr.RemoveConnector(ctx, tenantID, connectorType) {
				return outcome(true, "Connector removed", nil)
			}
			return outcome(false, core.MsgConnectorNotFound, nil)
		})
}

func (a *app) statusCommand() *cobra.Command {
	return a.tenantCommand("status", "Show connector health and available tables",
		func(ctx context.Context, mgr *manager.Manager, tenantID int64, connectorType string) error {
			st := mgr.GetConnectorStatus(ctx, tenantID, connectorType)
			if err := printJSON(st); err != nil {
				return err
			}
			if st.Status != core.StatusConnected {
				return errFailed
			}
			return nil
		})
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control API, /metrics and the sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := observability.InitTracing(a.cfg.Observability, version, os.Stdout); err != nil {
				return err
			}
			defer func() {
				if err := observability.Shutdown(context.WithoutCancel(ctx)); err != nil {
					a.logger.Warn("failed to flush traces", zap.Error(err))
				}
			}()

			return a.withManager(ctx, func(mgr *manager.Manager) error {
				if a.cfg.Scheduler.Enabled {
					sched, err := scheduler.New(mgr, a.cfg.Scheduler, a.logger)
					if err != nil {
						return err
					}
					sched.Start()
					defer sched.Stop()
				}

				return api.NewServer(mgr, a.cfg.Server, a.logger).ListenAndServe(ctx)
			})
		},
	}
}
