package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hazyhaar/mortalite/pkg/importer"
	"github.com/hazyhaar/mortalite/pkg/store"
)

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	reset := fs.Bool("reset", false, "drop every stored record and the import history first")
	quiet := fs.Bool("quiet", false, "no progress output")
	fs.Parse(args)

	cfg, logger := setup(*cfgPath)
	ctx := context.Background()

	if *reset {
		w, err := store.OpenWriter(ctx, cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Erreur ouverture base: %v\n", err)
			os.Exit(1)
		}
		err = w.Reset(ctx)
		w.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Erreur réinitialisation: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Base réinitialisée.")
	}

	if fs.NArg() == 0 {
		if *reset {
			return
		}
		fmt.Println("Usage :")
		fmt.Println("  mortalite import [-config <file>] [-reset] <fichier.csv|fichier.zip>...")
		os.Exit(1)
	}

	engine := importer.NewEngine(cfg.DBPath, logger)
	failed := 0
	for _, path := range fs.Args() {
		var progress importer.ProgressFunc
		if !*quiet {
			progress = func(fraction float64, rows int) {
				fmt.Fprintf(os.Stderr, "\r  %-40s %3.0f%%  %d lignes", path, fraction*100, rows)
			}
		}

		results, err := engine.ImportFile(ctx, path, progress)
		if !*quiet {
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Erreur lors de l'import: %v\n", err)
			failed++
			continue
		}
		for _, res := range results {
			fmt.Printf("%s: %s", res.Filename, res.Message)
			if res.OK() && res.Skipped > 0 {
				fmt.Printf(" (%d lignes ignorées)", res.Skipped)
			}
			fmt.Println()
			if !res.OK() {
				failed++
			}
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
