package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	appconfig "github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/llm"
	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/internal/server"
	"github.com/mohammad-safakhou/alphy/internal/store"
	"github.com/mohammad-safakhou/alphy/internal/telemetry"
	"github.com/mohammad-safakhou/alphy/tools/web_fetch"
	"github.com/mohammad-safakhou/alphy/tools/web_search"
)

func main() {
	var root = &cobra.Command{Use: "alphy"}
	root.AddCommand(researchCMD(), serveCMD(), workerCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func researchCMD() *cobra.Command {
	var categories []string
	var mode string
	var outDir string
	var persist bool

	cmd := &cobra.Command{
		Use:   "research",
		Short: "Run one research pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig()
			if err != nil {
				return err
			}
			if len(categories) == 0 {
				return fmt.Errorf("at least one --category is required")
			}
			if mode == "" {
				mode = cfg.Research.DefaultMode
			}

			tele := telemetry.New(cfg.Telemetry)
			provider, err := llm.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			searchProvider := web_search.Provider(cfg.Search.Provider)
			apiKey := cfg.Search.BraveAPIKey
			if searchProvider == web_search.SerperProvider {
				apiKey = cfg.Search.SerperAPIKey
			}
			searcher, err := web_search.NewWebSearcher(searchProvider, apiKey)
			if err != nil {
				return err
			}
			fetcher := web_fetch.NewFetcher(cfg.Search.Timeout, 0)
			registry := research.NewRegistry(searcher, fetcher, cfg.Search.MaxResults)
			ctrl := research.NewController(cfg, provider, registry, tele)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			state, err := ctrl.Run(ctx, research.Request{Categories: categories, Mode: mode})
			if err != nil {
				return err
			}

			fmt.Println(state.ReportText)
			if len(state.Errors) > 0 {
				log.Printf("run finished with %d non-fatal errors:", len(state.Errors))
				for _, e := range state.Errors {
					log.Printf("  [%s] %s", e.Phase, e.Message)
				}
			}

			if outDir != "" {
				if err := writeReport(outDir, state); err != nil {
					return err
				}
			}
			if persist {
				if err := persistRun(cfg, state); err != nil {
					log.Printf("persisting run: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil, "app category to research (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", "", "research mode (general or niche)")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write report.md and report.json")
	cmd.Flags().BoolVar(&persist, "persist", false, "store the run and report in postgres")
	return cmd
}

func writeReport(dir string, state *research.State) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(state.ReportText), 0o644); err != nil {
		return err
	}
	if state.Report != nil {
		blob, err := state.Report.JSON()
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "report.json"), blob, 0o644); err != nil {
			return err
		}
	}
	log.Printf("report written to %s", dir)
	return nil
}

func persistRun(cfg *appconfig.Config, state *research.State) error {
	dsn := cfg.Storage.Postgres.DSN()
	if dsn == "" {
		return fmt.Errorf("postgres is not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	runID := uuid.New().String()
	if err := st.CreateRun(ctx, runID, state.Categories, state.Mode); err != nil {
		return err
	}
	if err := st.SaveReport(ctx, runID, state.ReportText, state.Report); err != nil {
		return err
	}
	return st.FinishRun(ctx, runID, store.RunStatusCompleted, "")
}

func serveCMD() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return server.Run(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func workerCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the recurring-run scheduler without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.RunWorker(ctx, cfg)
		},
	}
}

func migrateCMD() *cobra.Command {
	var dir string
	var direction string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := os.Getenv("DATABASE_URL")
			if dsn == "" {
				cfg, err := appconfig.LoadConfig()
				if err != nil {
					return err
				}
				dsn = cfg.Storage.Postgres.DSN()
			}
			return server.Migrate(dir, dsn, direction, steps)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
