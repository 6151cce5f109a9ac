/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"loopcast/internal/cluster"
	"loopcast/internal/config"
	"loopcast/internal/contentstore"
	"loopcast/internal/ingest"
	"loopcast/internal/llm"
	"loopcast/internal/logger"
	"loopcast/internal/pipeline"
	"loopcast/internal/registry"
	"loopcast/internal/retryq"
	"loopcast/internal/tts"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "loopcast",
	Short: "LoopCast turns news feeds into clustered audio briefings.",
	Long: `LoopCast ingests RSS/Atom feeds, clusters related stories with
SimHash fingerprints and an LLM verification pass, and produces
narrated broadcast episodes that are pushed to a content store.

Run "loopcast run" to start the daemon loop.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loopcast.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(pruneCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ingest and broadcast daemon",
	Long: `Start the full loop: fetch feeds on the configured interval or
schedule, analyze and cluster items, and flush categories into
broadcast episodes. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("loopcast starting", "data_dir", app.cfg.App.DataDir, "feeds", len(app.cfg.Ingest.Feeds))
		app.runner.Run(ctx)
		return nil
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single ingest cycle and exit",
	Long: `Fetch all configured feeds once, analyze and cluster what is new,
attempt a flush, then exit. Useful for cron-driven setups and debugging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return app.runner.RunCycle(ctx)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Run one sweep of the delivery retry queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger.SetLevel(cfg.App.LogLevel)

		store := contentstore.NewClient(cfg.Store.BaseURL, cfg.Store.AuthKey)
		retry, err := retryq.Open(cfg.App.DataDir, store)
		if err != nil {
			return err
		}
		defer retry.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := retry.Sweep(ctx); err != nil {
			return fmt.Errorf("retry sweep: %w", err)
		}
		n, err := retry.Pending()
		if err != nil {
			return err
		}
		logger.Info("retry sweep complete", "still_pending", n)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune expired topics, processed links, and cached generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger.SetLevel(cfg.App.LogLevel)

		reg, err := registry.Open(cfg.App.DataDir)
		if err != nil {
			return err
		}
		defer reg.Close()
		topics, err := reg.Prune()
		if err != nil {
			return fmt.Errorf("registry prune: %w", err)
		}

		clusters, err := cluster.Open(cfg.App.DataDir)
		if err != nil {
			return err
		}
		defer clusters.Close()
		links, err := clusters.PruneLinks(cluster.DefaultLinkRetention)
		if err != nil {
			return fmt.Errorf("link prune: %w", err)
		}

		cache, err := llm.OpenCache(cfg.App.DataDir, cfg.LLM.CacheTTLDuration())
		if err != nil {
			return err
		}
		defer cache.Close()
		cached, err := cache.GC()
		if err != nil {
			return fmt.Errorf("cache gc: %w", err)
		}

		logger.Info("prune complete", "topics", topics, "links", links, "cached_generations", cached)
		return nil
	},
}

// app bundles everything the daemon needs plus the handles to close on exit.
type app struct {
	cfg    *config.Config
	runner *ingest.Runner

	clusters *cluster.Store
	reg      *registry.Registry
	cache    *llm.Cache
	retry    *retryq.Queue
}

func buildApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.App.LogLevel)

	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	clusters, err := cluster.Open(cfg.App.DataDir)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Open(cfg.App.DataDir)
	if err != nil {
		clusters.Close()
		return nil, err
	}
	cache, err := llm.OpenCache(cfg.App.DataDir, cfg.LLM.CacheTTLDuration())
	if err != nil {
		clusters.Close()
		reg.Close()
		return nil, err
	}

	gateway := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.APIKey,
		llm.WithCache(cache),
		llm.WithAuditLog(filepath.Join(cfg.App.DataDir, "reasoning.log")),
		llm.WithTimeout(cfg.LLM.TimeoutDuration()),
	)

	store := contentstore.NewClient(cfg.Store.BaseURL, cfg.Store.AuthKey)
	retry, err := retryq.Open(cfg.App.DataDir, store)
	if err != nil {
		clusters.Close()
		reg.Close()
		cache.Close()
		return nil, err
	}

	synth := tts.NewHTTPSynthesizer(cfg.TTS.BaseURL, cfg.TTS.SampleRate)
	renderer := tts.NewAssembler(synth, filepath.Join(cfg.App.DataDir, "tts_work"), cfg.TTS.FFmpegPath)

	agg := pipeline.New(clusters, reg, gateway, renderer, store, retry, cfg.Hosts, pipeline.Options{
		MinClusters:        cfg.Pipeline.MinClusters,
		MaxWait:            cfg.Pipeline.MaxWaitDuration(),
		MinEpisodeClusters: cfg.Pipeline.MinEpisodeClusters,
		TraceDir:           filepath.Join(cfg.App.DataDir, "traces"),
	})

	sources := make([]ingest.Source, 0, len(cfg.Ingest.Feeds))
	for _, url := range cfg.Ingest.Feeds {
		sources = append(sources, ingest.NewFeedSource(url))
	}
	analyzer := ingest.NewAnalyzer(gateway, cfg.Ingest.Categories)

	runner := ingest.NewRunner(sources, analyzer, agg, store, clusters, retry, cache, reg,
		time.Duration(cfg.Ingest.IntervalMin)*time.Minute, cfg.Ingest.ScheduleTimes)

	return &app{
		cfg:      cfg,
		runner:   runner,
		clusters: clusters,
		reg:      reg,
		cache:    cache,
		retry:    retry,
	}, nil
}

func (a *app) close() {
	a.retry.Close()
	a.cache.Close()
	a.reg.Close()
	a.clusters.Close()
}
