package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/collisionclean/internal/config"
	"github.com/TobiSchelling/collisionclean/internal/database"
	"github.com/TobiSchelling/collisionclean/internal/geocode"
	"github.com/TobiSchelling/collisionclean/internal/pipeline"
	"github.com/TobiSchelling/collisionclean/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "collisionclean",
	Short:   "Clean SWITRS collision exports",
	Long:    "collisionclean turns a raw SWITRS collision export into a geocoded, labelled, analysis-ready CSV.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			setLogFlags()
			return nil
		}

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setLogFlags()
		return nil
	},
}

func setLogFlags() {
	if verbose || (cfg != nil && strings.EqualFold(cfg.Logging.Level, "DEBUG")) {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(addressesCmd)
	rootCmd.AddCommand(geocodeCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("collisionclean", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/collisionclean/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the input export, city and geocoding options.")
		fmt.Println("Put GEOCODIO_API_KEY in the environment or a .env file.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger and geocode cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		version, err := db.SchemaVersion()
		if err != nil {
			return err
		}
		fmt.Printf("Ledger: %s (schema v%d)\n\n", db.Path(), version)
		fmt.Println("Runs:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		fmt.Printf("  Succeeded: %d\n", stats.SucceededRuns)
		fmt.Printf("  Failed: %d\n", stats.FailedRuns)
		fmt.Println("\nGeocode cache:")
		fmt.Printf("  Addresses: %d\n", stats.CachedGeocodes)
		fmt.Printf("  Matched: %d\n", stats.CachedMatches)
		if last := stats.LastRun; last != nil {
			fmt.Println("\nLast run:")
			fmt.Printf("  %s (%s)\n", last.ID, last.Status)
			fmt.Printf("  Started: %s\n", deref(last.StartedAt))
			fmt.Printf("  Records: %d in, %d out\n", last.RowsIn, last.RowsOut)
			if last.Error != nil {
				fmt.Printf("  Error: %s\n", *last.Error)
			}
		}

		fmt.Println("\nGeocoding:")
		if cfg.APIKey() != "" {
			fmt.Printf("  API key: set (%s)\n", cfg.Geocode.APIKeyEnv)
		} else {
			fmt.Printf("  API key: not set (%s)\n", cfg.Geocode.APIKeyEnv)
		}
		if _, err := os.Stat(cfg.Geocode.ResultsFile); err == nil {
			fmt.Printf("  Results file: %s\n", cfg.Geocode.ResultsFile)
		} else {
			fmt.Printf("  Results file: %s (missing)\n", cfg.Geocode.ResultsFile)
		}
		return nil
	},
}

// --- run command ---

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: project -> geocode -> severity -> expand -> filter -> export",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db, newGeocoder(db))

		var result *pipeline.Result
		var runErr error
		if dryRun {
			result = pipe.DryRun()
			runErr = result.Err()
		} else {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			result, runErr = pipe.Run(ctx)
		}

		printSteps(result)

		if runErr != nil {
			return runErr
		}
		if !dryRun {
			fmt.Printf("\nPipeline complete: %d of %d records written to %s\n",
				result.RowsOut, result.RowsIn, result.OutputPath)
			fmt.Println("Run 'collisionclean serve' to view the report.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

func printSteps(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/6: %s\n", i+1, step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
			continue
		}
		fmt.Printf("  %s\n", step.Summary)
		for _, c := range step.Dropped {
			fmt.Printf("    - %s: %d\n", c.Predicate, c.Rows)
		}
	}
}

// --- addresses command ---

var addressesCmd = &cobra.Command{
	Use:   "addresses",
	Short: "Export cross-street addresses for external geocoding",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, flagged, err := pipeline.New(cfg, nil, nil).ExportAddresses()
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d addresses to %s\n", n, cfg.Geocode.AddressesFile)
		if len(flagged) > 0 {
			fmt.Printf("%d records have no road names and were left out\n", len(flagged))
		}
		fmt.Printf("Save the geocoded sheet as %s (keep the case_id column).\n", cfg.Geocode.ResultsFile)
		return nil
	},
}

// --- geocode command ---

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode addresses with Geocodio and write the results file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.APIKey() == "" {
			return fmt.Errorf("no Geocodio API key: set %s", cfg.Geocode.APIKeyEnv)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sent, matched, err := pipeline.New(cfg, db, newGeocoder(db)).Geocode(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Geocoded %d addresses, %d matched\n", sent, matched)
		fmt.Printf("Results written to %s\n", cfg.Geocode.ResultsFile)
		return nil
	},
}

// --- runs command ---

var runsCounts bool

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.GetAllRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet. Start one with: collisionclean run")
			return nil
		}

		for _, r := range runs {
			fmt.Printf("  %s  %-9s  %s  %d -> %d\n", r.ID, r.Status, deref(r.StartedAt), r.RowsIn, r.RowsOut)
			if r.Error != nil {
				fmt.Printf("      %s\n", *r.Error)
			}
			if !runsCounts {
				continue
			}
			counts, err := db.GetRunCounts(r.ID)
			if err != nil {
				return err
			}
			for _, c := range counts {
				fmt.Printf("      %-9s %s: %d\n", c.Stage, c.Predicate, c.Rows)
			}
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().BoolVar(&runsCounts, "counts", false, "Show dropped records per reason")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	return database.OpenInDir(cfg.GetDataDir())
}

// newGeocoder builds the Geocodio client behind the ledger's geocode cache.
func newGeocoder(db *database.DB) geocode.Geocoder {
	g := cfg.Geocode
	client := geocode.NewClient(geocode.ClientOptions{
		BaseURL:           g.BaseURL,
		APIKey:            cfg.APIKey(),
		BatchSize:         g.BatchSize,
		Concurrency:       g.Concurrency,
		RequestsPerSecond: g.RequestsPerSecond,
		MaxRetries:        g.MaxRetries,
		Timeout:           time.Duration(g.TimeoutSeconds) * time.Second,
	})
	return geocode.NewCachedGeocoder(client, db)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
