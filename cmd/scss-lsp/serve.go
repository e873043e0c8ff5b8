package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/alucardeht/scss-lsp/internal/daemon"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/lsp"
	"github.com/alucardeht/scss-lsp/internal/mcp"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), shutdownSignals...)
}

func newServeCmd(a *app) *cobra.Command {
	var viaDaemon bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the language server over stdio",
		Long: `Run the language server over stdin and stdout.

With --daemon the session is relayed to a running daemon instead, so that
every editor shares its warm index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			stdio := lsp.StdioConn(os.Stdin, os.Stdout)
			if viaDaemon {
				return relay(ctx, a.cfg.Daemon.SocketPath, stdio)
			}

			ws, err := a.openWorkspace(ctx, false)
			if err != nil {
				return err
			}
			defer ws.Close()

			srv, err := lsp.NewServer(ws, a.serverOptions())
			if err != nil {
				return err
			}
			return srv.Serve(ctx, stdio)
		},
	}
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "Relay the session to the daemon socket")
	return cmd
}

// relay copies a session between stdio and the daemon until either side
// closes.
func relay(ctx context.Context, socketPath string, stdio io.ReadWriteCloser) error {
	conn, err := daemon.NewSocketConnector(socketPath).Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, stdio)
		done <- err
	}()
	go func() {
		_, err := io.Copy(stdio, conn)
		done <- err
	}()

	select {
	case err := <-done:
		return errors.Wrap(err, "relay")
	case <-ctx.Done():
		return nil
	}
}

func newDaemonCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the shared language server daemon",
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.EnsureDirectories(); err != nil {
				return err
			}

			lm := daemon.NewLifecycleManager(a.cfg.Daemon.PIDFile, a.cfg.Daemon.SocketPath)
			if err := lm.Acquire(); err != nil {
				return err
			}
			defer lm.Cleanup()

			ctx, stop := signalContext()
			defer stop()

			ws, err := a.openWorkspace(ctx, true)
			if err != nil {
				return err
			}
			defer ws.Close()

			d, err := daemon.NewDaemon(ws, daemon.Config{
				SocketPath:     a.cfg.Daemon.SocketPath,
				MaxConnections: a.cfg.Daemon.MaxConnections,
				Server:         a.serverOptions(),
			})
			if err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				return err
			}
			return d.Serve(ctx)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lm := daemon.NewLifecycleManager(a.cfg.Daemon.PIDFile, a.cfg.Daemon.SocketPath)
			if pid, ok := lm.Running(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "running (pid %d) on %s\n", pid, a.cfg.Daemon.SocketPath)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "not running")
			return nil
		},
	}

	cmd.AddCommand(start, status)
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve definition, symbol and search tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace(context.Background(), true)
			if err != nil {
				return err
			}
			defer ws.Close()

			logger.Info("starting mcp server", "root", a.root, "version", version)
			return mcp.ServeStdio(mcp.NewServer(ws, a.cfg.Definition, version))
		},
	}
}
