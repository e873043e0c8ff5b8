package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/alucardeht/scss-lsp/internal/config"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/lsp"
	"github.com/alucardeht/scss-lsp/internal/workspace"
)

var version = "dev"

// app carries the state every subcommand shares once flags are parsed.
type app struct {
	configFile string
	root       string
	logLevel   string

	cfg     *config.Config
	logFile *os.File
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "scss-lsp",
		Short:         "Go-to-definition for SCSS variables, mixins and functions",
		Long:          `A language server, daemon and MCP tool server that resolves SCSS symbol uses to their declarations.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "Config file (default: nearest .scss-lsp.yaml above --root)")
	root.PersistentFlags().StringVar(&a.root, "root", "", "Workspace root (default: working directory)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newDaemonCmd(a),
		newMCPCmd(a),
		newDefinitionCmd(a),
		newSymbolsCmd(a),
		newSearchCmd(a),
	)
	return root
}

func (a *app) load() error {
	if a.root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "get working directory")
		}
		a.root = wd
	}
	abs, err := filepath.Abs(a.root)
	if err != nil {
		return errors.Wrapf(err, "resolve root %s", a.root)
	}
	a.root = abs

	cfg, err := config.Load(config.LoadOptions{ConfigFile: a.configFile, WorkspaceRoot: a.root})
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	logCfg, f, err := cfg.Logger()
	if err != nil {
		return err
	}
	a.logFile = f
	logger.Init(logCfg)

	if cfg.File != "" {
		logger.Debug("loaded config", "file", cfg.File)
	}
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

// openWorkspace starts the indexer with its cache keyed by the root. When
// scan is set the root is indexed right away instead of waiting for a client
// to name its folders.
func (a *app) openWorkspace(ctx context.Context, scan bool) (*workspace.Workspace, error) {
	ws, err := workspace.Open(ctx, a.cfg, a.root)
	if err != nil {
		return nil, err
	}
	if scan {
		if err := ws.AddRoot(a.root); err != nil {
			ws.Close()
			return nil, err
		}
	}
	return ws, nil
}

func (a *app) serverOptions() lsp.Options {
	return lsp.Options{
		Settings:         a.cfg.Definition,
		MaxOpenDocuments: a.cfg.LSP.MaxOpenDocuments,
		Version:          version,
	}
}
