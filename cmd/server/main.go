package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/mortalite/pkg/api"
	"github.com/hazyhaar/mortalite/pkg/geo"
	"github.com/hazyhaar/mortalite/pkg/importer"
	"github.com/hazyhaar/mortalite/pkg/population"
	"github.com/hazyhaar/mortalite/pkg/query"
	"github.com/hazyhaar/mortalite/pkg/store"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "import":
		cmdImport(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "stats":
		cmdStats(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: mortalite <command> [flags]

Commands:
  serve    Start the HTTP API
  import   Import INSEE death files (.csv, .txt or .zip)
  mcp      Serve the read-only aggregates as MCP tools on stdio
  stats    Print store statistics
`)
}

// openQuery opens a read-only store and the query service over it.
func openQuery(ctx context.Context, cfg config, logger *slog.Logger) (*store.DB, *query.Service) {
	db, err := store.OpenReader(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	pop := population.New(cfg.PopulationDeptPath, cfg.PopulationAgePath, logger)
	if pop.Empty() {
		logger.Warn("no population data, mortality rates disabled",
			"dept", cfg.PopulationDeptPath, "age", cfg.PopulationAgePath)
	}
	svc, err := query.New(db, pop)
	if err != nil {
		logger.Error("query service", "error", err)
		os.Exit(1)
	}
	logger.Debug("store opened read-only", "path", db.Path())
	return db, svc
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, logger := setup(*cfgPath)

	// SIGINT/SIGTERM: graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, svc := openQuery(ctx, cfg, logger)
	defer db.Close()

	router := api.NewRouter(api.Config{
		Query:     svc,
		Engine:    importer.NewEngine(cfg.DBPath, logger),
		Geo:       geo.NewProvider(cfg.GeoJSONURL, cfg.GeoJSONPath, logger),
		Logger:    logger,
		Token:     cfg.DashboardToken,
		MaxUpload: cfg.MaxUploadMB << 20,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("mortalite listening", "addr", cfg.Addr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, logger := setup(*cfgPath)
	db, svc := openQuery(context.Background(), cfg, logger)
	defer db.Close()

	srv := server.NewMCPServer("mortalite", version, server.WithToolCapabilities(false))
	api.RegisterMCPTools(srv, svc, logger)

	logger.Info("mcp serving on stdio", "db", cfg.DBPath)
	if err := server.ServeStdio(srv); err != nil {
		logger.Error("mcp server", "error", err)
		os.Exit(1)
	}
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	asJSON := fs.Bool("json", false, "print as JSON")
	fs.Parse(args)

	cfg, logger := setup(*cfgPath)
	ctx := context.Background()
	db, svc := openQuery(ctx, cfg, logger)
	defer db.Close()

	st, err := svc.DatabaseStats(ctx)
	if err != nil {
		logger.Error("stats", "error", err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(st)
		return
	}

	fmt.Printf("Enregistrements : %d\n", st.TotalRecords)
	if st.TotalRecords > 0 {
		fmt.Printf("Période         : %s -> %s\n", st.FirstDeath, st.LastDeath)
	}
	fmt.Printf("Départements    : %d\n", st.Departments)
	fmt.Printf("Imports         : %d\n", st.Imports)
}
