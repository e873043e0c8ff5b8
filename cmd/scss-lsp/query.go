package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alucardeht/scss-lsp/internal/daemon"
	"github.com/alucardeht/scss-lsp/internal/definition"
	"github.com/alucardeht/scss-lsp/internal/document"
	"github.com/alucardeht/scss-lsp/internal/index"
	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/lsp"
	"github.com/alucardeht/scss-lsp/internal/parser"
	"github.com/alucardeht/scss-lsp/internal/symbols"
)

const indexTimeout = 30 * time.Second

func newDefinitionCmd(a *app) *cobra.Command {
	var (
		viaDaemon bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "definition FILE POSITION",
		Short: "Print where the symbol used at POSITION is declared",
		Long: `Print where the variable, mixin or function used at POSITION in FILE is
declared. POSITION is a byte offset, or LINE:CHARACTER counted from zero.

The result is printed as path:line:column counted from one, or as an LSP
location with --json.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), indexTimeout)
			defer cancel()

			doc, err := loadDocument(args[0])
			if err != nil {
				return err
			}
			offset, err := parsePosition(doc, args[1])
			if err != nil {
				return err
			}

			var loc *symbols.Location
			if viaDaemon {
				loc, err = a.definitionViaDaemon(ctx, doc, offset)
			} else {
				loc, err = a.definitionInProcess(ctx, doc, offset)
			}
			if err != nil {
				return err
			}
			return printLocation(cmd.OutOrStdout(), loc, asJSON)
		},
	}
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "Ask the running daemon instead of indexing in process")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the location as JSON")
	return cmd
}

func (a *app) definitionInProcess(ctx context.Context, doc *document.Document, offset int) (*symbols.Location, error) {
	ws, err := a.openWorkspace(ctx, true)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	if err := ws.WaitIdle(ctx); err != nil {
		return nil, errors.Wrap(err, "wait for workspace index")
	}
	ws.Storage().SetFromDisk(doc.URI(), parser.Parse(doc))
	return definition.GoDefinition(doc, offset, ws.Storage(), a.cfg.Definition)
}

func (a *app) definitionViaDaemon(ctx context.Context, doc *document.Document, offset int) (*symbols.Location, error) {
	pos, err := doc.PositionAt(offset)
	if err != nil {
		return nil, err
	}

	clientCfg := lsp.DefaultClientConfig()
	if a.cfg.LSP.RequestTimeout > 0 {
		clientCfg.RequestTimeout = a.cfg.LSP.RequestTimeout
	}
	client, err := daemon.Dial(ctx, a.cfg.Daemon.SocketPath, clientCfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Initialize(ctx, document.FromPath(a.root), nil); err != nil {
		return nil, err
	}
	loc, err := client.Definition(ctx, doc.URI(), pos)
	if err != nil {
		return nil, err
	}
	if err := client.Shutdown(ctx); err != nil {
		logger.Debug("daemon shutdown failed", "error", err)
	}
	return loc, nil
}

func loadDocument(path string) (*document.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", path)
	}
	content, _, _, err := index.ReadFileAsUTF8(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	lang := document.LanguageSCSS
	if strings.EqualFold(filepath.Ext(abs), ".css") {
		lang = "css"
	}
	return document.New(document.FromPath(abs), lang, 0, content), nil
}

// parsePosition accepts a byte offset or a zero-based LINE:CHARACTER pair.
func parsePosition(doc *document.Document, s string) (int, error) {
	if line, char, ok := strings.Cut(s, ":"); ok {
		l, err := strconv.Atoi(line)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid line in %q", s)
		}
		c, err := strconv.Atoi(char)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid character in %q", s)
		}
		if l < 0 || c < 0 || l >= doc.LineCount() {
			return 0, errors.Wrapf(definition.ErrOffsetOutOfRange, "position %s, %d lines", s, doc.LineCount())
		}
		return doc.OffsetAt(symbols.Position{Line: l, Character: c}), nil
	}

	offset, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid offset %q", s)
	}
	if offset < 0 || offset > doc.Len() {
		return 0, errors.Wrapf(definition.ErrOffsetOutOfRange, "offset %d, document length %d", offset, doc.Len())
	}
	return offset, nil
}

func printLocation(w io.Writer, loc *symbols.Location, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(loc)
	}
	if loc == nil {
		fmt.Fprintln(w, "no definition found")
		return nil
	}
	target := loc.URI
	if p, err := document.ToPath(loc.URI); err == nil {
		target = p
	}
	fmt.Fprintf(w, "%s:%d:%d\n", target, loc.Range.Start.Line+1, loc.Range.Start.Character+1)
	return nil
}

func newSymbolsCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "symbols FILE",
		Short: "Print the symbol index of a stylesheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(args[0])
			if err != nil {
				return err
			}
			idx := parser.Parse(doc)

			w := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(idx)
			case "yaml":
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(idx); err != nil {
					return err
				}
				return enc.Close()
			default:
				return errors.Newf("unknown format %q, want json or yaml", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: json or yaml")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search declarations across the workspace by name prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), indexTimeout)
			defer cancel()

			ws, err := a.openWorkspace(ctx, true)
			if err != nil {
				return err
			}
			defer ws.Close()

			if err := ws.WaitIdle(ctx); err != nil {
				return errors.Wrap(err, "wait for workspace index")
			}
			hits, err := ws.Search(args[0], limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, hit := range hits {
				rel, err := filepath.Rel(a.root, hit.Path)
				if err != nil || hit.Path == "" {
					rel = hit.URI
				}
				fmt.Fprintf(w, "%s\t%s\t%s:%d:%d\n", hit.Name, hit.Kind, rel, hit.Position.Line+1, hit.Position.Character+1)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of results")
	return cmd
}
