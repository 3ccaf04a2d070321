// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mdhender/datascan"
	"github.com/mdhender/datascan/config"
	"github.com/mdhender/datascan/embed"
	"github.com/mdhender/datascan/modality"
	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/pipelines"
	"github.com/mdhender/datascan/pipelines/stages"
	"github.com/mdhender/datascan/profile"
	store "github.com/mdhender/datascan/stores/sqlite"
	"github.com/mdhender/datascan/web/handlers"
	"github.com/spf13/cobra"
)

func main() {
	addFlags := func(cmd *cobra.Command) error {
		cmd.PersistentFlags().Bool("log-with-default-flags", false, "log with default flags")
		cmd.PersistentFlags().Bool("log-with-shortfile", true, "log with short file name")
		cmd.PersistentFlags().Bool("log-with-timestamp", false, "log with timestamp")
		cmd.PersistentFlags().Bool("show-version", false, "show version")
		return nil
	}
	var cmdRoot = &cobra.Command{
		Use:   "datascan",
		Short: "dataset profiling utility",
		Long:  `Classify, label, and profile medical imaging datasets`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logWithDefaultFlags, _ := cmd.Flags().GetBool("log-with-default-flags")
			logWithShortFileName, _ := cmd.Flags().GetBool("log-with-shortfile")
			logWithTimestamp, _ := cmd.Flags().GetBool("log-with-timestamp")
			logFlags := 0
			if logWithShortFileName {
				logFlags |= log.Lshortfile
			}
			if logWithTimestamp {
				logFlags |= log.Ltime
			}
			if logWithDefaultFlags || logFlags == 0 {
				logFlags = log.LstdFlags
			}
			log.SetFlags(logFlags)

			if showVersion, _ := cmd.Flags().GetBool("show-version"); showVersion {
				fmt.Printf("datascan: version %q\n", datascan.Version().Core())
			}

			return nil
		},
	}
	cmdRoot.AddCommand(cmdServe())
	cmdRoot.AddCommand(cmdRun())
	cmdRoot.AddCommand(cmdInitDB())
	cmdRoot.AddCommand(cmdCompactDB())
	cmdRoot.AddCommand(cmdVersion())
	if err := addFlags(cmdRoot); err != nil {
		log.Fatal(err)
	}

	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine assembles the detector list in priority order from the
// configuration. Disabled detectors are left out entirely so they never
// dilute the confidence denominator.
func buildEngine(cfg *config.Config) *modality.Engine {
	var detectors []modality.Detector
	if cfg.Detectors.Tag {
		detectors = append(detectors, modality.NewTagDetector())
	}
	if cfg.Detectors.Stats {
		detectors = append(detectors, modality.NewStatsDetector())
	}
	if cfg.Detectors.Keyword {
		detectors = append(detectors, modality.NewKeywordDetector())
	}
	return modality.NewEngine(detectors, cfg.Detectors.TagDominance)
}

func runnerOptions(cfg *config.Config) stages.Options {
	return stages.Options{
		FileConcurrency: cfg.Pipeline.FileConcurrency,
		BatchSize:       cfg.Pipeline.BatchSize,
		MaxFiles:        cfg.Pipeline.MaxFilesPerDataset,
		Profile: profile.Params{
			MinFiles:  cfg.Profiling.MinFiles,
			MinPoints: cfg.Profiling.MinClusterSize,
			Eps:       cfg.Profiling.Eps,
		},
		MixedModalityShare: cfg.Profiling.MixedModalityShare,
	}
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func cmdServe() *cobra.Command {
	var configFile string
	var listenAddr string
	var dbPath string
	var timeout time.Duration
	addFlags := func(cmd *cobra.Command) error {
		cmd.Flags().StringVarP(&configFile, "config-file", "c", configFile, "load configuration from file")
		cmd.Flags().StringVar(&listenAddr, "addr", listenAddr, "HTTP listen address (overrides config)")
		cmd.Flags().StringVar(&dbPath, "db", dbPath, "SQLite database file path (overrides config)")
		cmd.Flags().DurationVar(&timeout, "timeout", timeout, "auto-shutdown after duration (e.g., 5s, 1m)")
		return nil
	}
	var cmd = &cobra.Command{
		Use:          "serve",
		Short:        "run the dataset profiling server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Listen = listenAddr
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			return serve(cfg, timeout)
		},
	}
	if err := addFlags(cmd); err != nil {
		log.Fatal(err)
	}
	return cmd
}

func serve(cfg *config.Config, timeout time.Duration) error {
	var sqliteStore *store.SQLiteStore
	var err error

	if cfg.DBPath != "" {
		// File-based mode: database must already exist (created by init-db)
		log.Printf("store: using file-based SQLite: %s", cfg.DBPath)
		sqliteStore, err = store.NewSQLiteStoreWithConfig(store.StoreConfig{
			Path:       cfg.DBPath,
			InitSchema: false,
		})
	} else {
		log.Printf("store: using in-memory SQLite")
		sqliteStore, err = store.NewSQLiteStore()
	}
	if err != nil {
		return fmt.Errorf("failed to create SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	stats := sqliteStore.Stats()
	log.Printf("store: %d datasets, %d file records", stats.Datasets, stats.FileRecords)

	runner := stages.NewRunner(sqliteStore, buildEngine(cfg), embed.NewHistogramEmbedder(), runnerOptions(cfg))
	pipeline := pipelines.New(sqliteStore, runner, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)

	// Workers come up before recovery so a backlog larger than the queue
	// drains instead of wedging startup.
	ctx := context.Background()
	pipeline.Start(ctx)
	defer pipeline.Stop()
	if err := pipeline.Recover(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	h := handlers.New(sqliteStore, pipeline, cfg.DataRoot)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	if timeout > 0 {
		go func() {
			log.Printf("server: will auto-shutdown in %v", timeout)
			time.Sleep(timeout)
			log.Printf("server: timeout reached, initiating shutdown")
			shutdown <- os.Interrupt
		}()
	}

	go func() {
		log.Printf("server: listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %v", err)
		}
	}()

	<-shutdown
	log.Printf("server: shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown error: %w", err)
	}

	log.Printf("server: stopped")
	return nil
}

func cmdRun() *cobra.Command {
	var configFile string
	var outputFile string
	var name string
	addFlags := func(cmd *cobra.Command) error {
		cmd.Flags().StringVarP(&configFile, "config-file", "c", configFile, "load configuration from file")
		cmd.Flags().StringVarP(&outputFile, "output", "o", outputFile, "save summary to file")
		cmd.Flags().StringVar(&name, "name", name, "dataset name (defaults to the workspace path)")
		return nil
	}
	var cmd = &cobra.Command{
		Use:          "run <workspace-dir>",
		Short:        "profile one dataset directory and print the summary",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if name == "" {
				name = args[0]
			}

			sqliteStore, err := store.NewSQLiteStore()
			if err != nil {
				return fmt.Errorf("failed to create SQLite store: %v", err)
			}
			defer sqliteStore.Close()

			ctx := context.Background()
			ds := &model.Dataset{
				ID:        uuid.NewString(),
				Name:      name,
				Workspace: args[0],
				Stage:     model.StagePending,
				CreatedAt: time.Now().UTC(),
			}
			if err := sqliteStore.InsertDataset(ctx, ds); err != nil {
				return err
			}

			started := time.Now()
			runner := stages.NewRunner(sqliteStore, buildEngine(cfg), embed.NewHistogramEmbedder(), runnerOptions(cfg))
			if err := runner.Run(ctx, ds); err != nil {
				return err
			}
			log.Printf("%s: profiled in %v\n", args[0], time.Since(started))

			data, err := json.MarshalIndent(ds.Summary, "", "  ")
			if err != nil {
				return err
			}
			if outputFile == "" {
				fmt.Printf("%s\n", string(data))
			} else if err = os.WriteFile(outputFile, data, 0o644); err != nil {
				return err
			} else {
				log.Printf("%s: wrote %d bytes\n", outputFile, len(data))
			}

			return nil
		},
	}
	if err := addFlags(cmd); err != nil {
		log.Fatal(err)
	}
	return cmd
}

func cmdInitDB() *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "init-db <database-file>",
		Short:        "create and initialize a new database file",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.InitDatabase(args[0]); err != nil {
				return err
			}
			log.Printf("init-db: created %s", args[0])
			return nil
		},
	}
	return cmd
}

func cmdCompactDB() *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "compact-db <database-file>",
		Short:        "checkpoint and vacuum a database file",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.CompactDatabase(args[0]); err != nil {
				return err
			}
			log.Printf("compact-db: compacted %s", args[0])
			return nil
		},
	}
	return cmd
}

func cmdVersion() *cobra.Command {
	showBuildInfo := false
	addFlags := func(cmd *cobra.Command) error {
		cmd.Flags().BoolVar(&showBuildInfo, "build-info", showBuildInfo, "show build information")
		return nil
	}
	var cmd = &cobra.Command{
		Use:   "version",
		Short: "display the application's version number",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showBuildInfo {
				fmt.Println(datascan.Version().String())
				return nil
			}
			fmt.Println(datascan.Version().Core())
			return nil
		},
	}
	if err := addFlags(cmd); err != nil {
		log.Fatal(err)
	}
	return cmd
}
