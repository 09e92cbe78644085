package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"souschef/internal/config"
	"souschef/internal/di"
	"souschef/internal/logging"
	serverhttp "souschef/internal/server/http"
	id "souschef/internal/utils/id"
)

type rootFlags struct {
	configPath string
	logLevel   string
	model      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "souschef",
		Short:         "Recipe assistant that searches and reads recipes for you",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to souschef.yaml")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&flags.model, "model", "m", "", "Chat model to use")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newChatCommand(flags))
	root.AddCommand(newIndexCommand(flags))
	return root
}

func loadConfig(flags *rootFlags, extra ...config.Option) (config.Config, error) {
	opts := []config.Option{}
	if flags.configPath != "" {
		opts = append(opts, config.WithConfigPath(flags.configPath))
	}
	if flags.logLevel != "" {
		opts = append(opts, config.WithOverride("log.level", flags.logLevel))
	}
	if flags.model != "" {
		opts = append(opts, config.WithOverride("llm.model", flags.model))
	}
	cfg, _, err := config.Load(append(opts, extra...)...)
	return cfg, err
}

func buildContainer(flags *rootFlags, extra ...config.Option) (*di.Container, error) {
	cfg, err := loadConfig(flags, extra...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return di.BuildContainer(cfg)
}

func cleanup(container *di.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := container.Cleanup(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorText("cleanup: "+err.Error()))
	}
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var extra []config.Option
			if addr != "" {
				extra = append(extra, config.WithOverride("server.addr", addr))
			}
			container, err := buildContainer(flags, extra...)
			if err != nil {
				return err
			}
			defer cleanup(container)

			cfg := container.Config.Server
			server := serverhttp.NewServer(serverhttp.Config{
				Addr:           cfg.Addr,
				AllowedOrigins: cfg.AllowedOrigins,
				RateLimit: serverhttp.RateLimitConfig{
					RequestsPerMinute: cfg.RateLimitPerMinute,
					Burst:             cfg.RateLimitBurst,
				},
				ShutdownTimeout: cfg.ShutdownTimeout,
				Debug:           container.Config.Log.Level == "debug",
			}, container.Coordinator,
				serverhttp.WithLogger(logging.NewComponentLogger("server")),
				serverhttp.WithMetricsHandler(container.Metrics.Handler()),
			)
			return server.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func newChatCommand(flags *rootFlags) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer cleanup(container)
			if threadID == "" {
				threadID = id.NewThreadID()
			}
			return runInteractive(cmd.Context(), container.Coordinator, threadID, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Conversation thread to continue (default: a new one)")
	return cmd
}

func newIndexCommand(flags *rootFlags) *cobra.Command {
	var startPage, endPage int
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scrape recipe search pages into the local recipe index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := buildContainer(flags)
			if err != nil {
				return err
			}
			defer cleanup(container)

			started := time.Now()
			stats, err := container.Indexer.Index(cmd.Context(), startPage, endPage)
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s pages=%d (failed %d) links=%d indexed=%d failed=%d total=%d in %v\n",
					successText("Indexed"), stats.Pages, stats.FailedPages, stats.Links, stats.Indexed, stats.FailedRecipe,
					container.VectorStore.Count(), time.Since(started).Round(time.Second))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&startPage, "start-page", 1, "First search results page")
	cmd.Flags().IntVar(&endPage, "end-page", 1, "Last search results page")
	return cmd
}
