package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sitemend/sitemend/internal/api"
	"github.com/sitemend/sitemend/internal/auditlog"
	"github.com/sitemend/sitemend/internal/config"
	"github.com/sitemend/sitemend/internal/docindex"
	"github.com/sitemend/sitemend/internal/editgen"
	"github.com/sitemend/sitemend/internal/genai"
	"github.com/sitemend/sitemend/internal/intent"
	"github.com/sitemend/sitemend/internal/ledger"
	"github.com/sitemend/sitemend/internal/lockfile"
	"github.com/sitemend/sitemend/internal/mcpserver"
	"github.com/sitemend/sitemend/internal/pipeline"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd(os.Args[2:])
	case "edit":
		editCmd(os.Args[2:])
	case "reindex":
		reindexCmd(os.Args[2:])
	case "history":
		historyCmd(os.Args[2:])
	case "version":
		fmt.Printf("sitemend %s (%s)\n", Version, Commit)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `sitemend

Usage:
  sitemend serve [flags]
  sitemend edit [flags]
  sitemend reindex [flags]
  sitemend history [flags]
  sitemend version

Commands:
  serve       Run the HTTP API server (optionally also the MCP stdio server).
  edit        Submit a single edit instruction and print the result.
  reindex     Rebuild a project's section index from an HTML file.
  history     Print a project's edit history.
  version     Print build information.

`)
}

// app bundles everything a command needs after setup.
type app struct {
	cfg *config.Config
	log *slog.Logger
	svc *pipeline.Service

	indexes *docindex.Store
	ledger  *ledger.Store
	lock    *lockfile.Lock
}

func (a *app) close() {
	if a.indexes != nil {
		_ = a.indexes.Close()
	}
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
	if a.lock != nil {
		_ = a.lock.Release()
	}
}

func newApp(cfgPath string, log *slog.Logger) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = cfg.Log.Logger()
	}

	if err := os.MkdirAll(cfg.Storage.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("init state dir: %w", err)
	}
	lock, err := lockfile.Acquire(filepath.Join(cfg.Storage.StateDir, "sitemend.lock"))
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			return nil, fmt.Errorf("state dir %s is in use by another sitemend process", cfg.Storage.StateDir)
		}
		return nil, err
	}

	a := &app{cfg: cfg, log: log, lock: lock}

	a.indexes, err = docindex.Open(cfg.Storage.IndexDBPath())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open index store: %w", err)
	}
	a.ledger, err = ledger.Open(cfg.Storage.LedgerDBPath())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	classifierClient, err := genai.NewClient(cfg.Providers.Classifier.Type, cfg.Providers.Classifier.BaseURL, cfg.Providers.Classifier.APIKey())
	if err != nil {
		a.close()
		return nil, err
	}
	generatorClient, err := genai.NewClient(cfg.Providers.Generator.Type, cfg.Providers.Generator.BaseURL, cfg.Providers.Generator.APIKey())
	if err != nil {
		a.close()
		return nil, err
	}

	audit, err := auditlog.New(auditlog.Options{Logger: log, StateDir: cfg.Storage.StateDir})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	a.svc, err = pipeline.New(pipeline.Options{
		Logger:     log,
		Indexes:    a.indexes,
		Ledger:     a.ledger,
		Classifier: intent.NewClassifier(classifierClient, cfg.Providers.Classifier.Model),
		Generator: editgen.New(generatorClient, editgen.Options{
			Model:     cfg.Providers.Generator.Model,
			MaxTokens: cfg.Generation.MaxTokens,
			BaseDelay: cfg.Generation.BaseDelay(),
			CostPer1K: cfg.Generation.CostPer1K,
		}),
		Audit: audit,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file (empty: defaults)")
	withMCP := fs.Bool("mcp", false, "Also serve MCP tools on stdin/stdout")
	_ = fs.Parse(args)

	// MCP owns stdout; keep logs off it.
	var log *slog.Logger
	if *withMCP {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	a, err := newApp(*cfgPath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "serve failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.Server.Address(),
		Handler:           api.NewRouter(a.svc, a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		a.log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if *withMCP {
		go func() {
			a.log.Info("mcp server on stdio")
			errCh <- mcpserver.New(a.svc, Version).ServeStdio()
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		a.log.Info("shutting down", "signal", s.String())
	case err := <-errCh:
		if err != nil {
			a.log.Error("server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func editCmd(args []string) {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file (empty: defaults)")
	projectID := fs.String("project", "", "Project identifier")
	userID := fs.String("user", "cli", "Acting user identifier")
	prompt := fs.String("prompt", "", "Edit instruction")
	htmlFile := fs.String("html-file", "", "Document file (required only when the project has no index yet)")
	_ = fs.Parse(args)

	if *projectID == "" || *prompt == "" {
		fs.Usage()
		os.Exit(2)
	}

	var html string
	if *htmlFile != "" {
		data, err := os.ReadFile(*htmlFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read html file: %v\n", err)
			os.Exit(1)
		}
		html = string(data)
	}

	a, err := newApp(*cfgPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edit failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	res, err := a.svc.SubmitEdit(context.Background(), pipeline.SubmitRequest{
		ProjectID: *projectID,
		UserID:    *userID,
		Prompt:    *prompt,
		HTML:      html,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "edit failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(res)
	if !res.Success {
		os.Exit(1)
	}
}

func reindexCmd(args []string) {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file (empty: defaults)")
	projectID := fs.String("project", "", "Project identifier")
	htmlFile := fs.String("html-file", "", "Document file")
	_ = fs.Parse(args)

	if *projectID == "" || *htmlFile == "" {
		fs.Usage()
		os.Exit(2)
	}
	data, err := os.ReadFile(*htmlFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read html file: %v\n", err)
		os.Exit(1)
	}

	a, err := newApp(*cfgPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reindex failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	idx, err := a.svc.Reindex(context.Background(), *projectID, string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "reindex failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(map[string]any{
		"project_id":   idx.ProjectID,
		"sections":     idx.SectionNames(),
		"style_system": idx.StyleSystem,
	})
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file (empty: defaults)")
	projectID := fs.String("project", "", "Project identifier")
	limit := fs.Int("limit", 20, "Maximum number of edits")
	_ = fs.Parse(args)

	if *projectID == "" {
		fs.Usage()
		os.Exit(2)
	}

	a, err := newApp(*cfgPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	edits, err := a.svc.History(context.Background(), *projectID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(edits)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
