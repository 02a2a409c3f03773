package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sessionbuddy/sessionbuddy/internal/akosha"
	"github.com/sessionbuddy/sessionbuddy/internal/config"
	"github.com/sessionbuddy/sessionbuddy/internal/evolution"
	"github.com/sessionbuddy/sessionbuddy/internal/logging"
	"github.com/sessionbuddy/sessionbuddy/internal/mcptools"
	"github.com/sessionbuddy/sessionbuddy/internal/memory"
	"github.com/sessionbuddy/sessionbuddy/internal/session"
	"github.com/sessionbuddy/sessionbuddy/internal/workerpool"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sessionbuddy",
	Short: "session-buddy - session coordinator with layered memory",
	Long: `session-buddy coordinates development sessions: git-aware checkpoints,
a layered memory store, delegated task execution and memory sync.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-shot memory sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("session-buddy %s\n", Version)
		fmt.Printf("  built:  %s\n", BuildTime)
		fmt.Printf("  commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// bootstrap loads config, initializes logging and opens the store.
func bootstrap(ctx context.Context) (config.Settings, *memory.Store, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return settings, nil, err
	}
	logging.Init(logging.Config{
		Level:     settings.LogLevel,
		Format:    settings.LogFormat,
		Component: "sessionbuddy",
	})
	log.Info().Str("version", Version).Str("collection", settings.Collection).Msg("Starting session-buddy")

	store, err := memory.Open(memory.Config{
		DatabasePath:     settings.DatabasePath,
		Collection:       settings.Collection,
		EmbeddingDim:     settings.EmbeddingDim,
		EnableVSS:        settings.EnableVSS,
		EnableEmbeddings: settings.EnableEmbeddings,
	})
	if err != nil {
		return settings, nil, err
	}
	return settings, store, nil
}

// buildSyncer assembles the hybrid sync stack from the settings. The cloud
// leg is skipped when no bucket is configured or credentials are missing.
func buildSyncer(ctx context.Context, settings config.Settings) *akosha.HybridSync {
	var cloud akosha.Method
	if settings.Akosha.CloudConfigured() {
		if store, err := akosha.NewS3Store(ctx, settings.Akosha); err == nil {
			cloud = akosha.NewCloudMethod(settings.Akosha, store)
		} else {
			log.Warn().Err(err).Msg("Cloud sync unavailable")
		}
	}
	return akosha.NewHybridSync(settings.Akosha, cloud, akosha.NewHTTPMethod(settings.Akosha))
}

func runServe(ctx context.Context) error {
	settings, store, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var executor workerpool.TaskExecutor = session.UnconfiguredExecutor{}
	if len(settings.TaskCommand) > 0 {
		if cmdExec, err := session.NewCommandExecutor(settings.TaskCommand, settings.TaskTimeout); err == nil {
			executor = cmdExec
		} else {
			log.Warn().Err(err).Msg("Invalid task command, delegated execution disabled")
		}
	}
	pools := workerpool.GetManager(executor)
	defer func() {
		if err := workerpool.ResetManager(shutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("Worker pools did not stop cleanly")
		}
	}()

	coordinator := session.New(store, settings, buildSyncer(ctx, settings), pools)
	server := mcptools.NewServer(mcptools.Deps{
		Store:       store,
		Coordinator: coordinator,
		Pools:       pools,
		Engine:      evolution.GetEngine(),
	})

	// Reload sync settings on config file changes without restarting.
	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(s config.Settings) {
				coordinator.UpdateSettings(s, buildSyncer(ctx, s))
			})
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Config watcher stopped")
			}
		}()
	}

	log.Info().Int("tools", len(server.ListToolNames())).Msg("Serving MCP on stdio")
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("Shutting down")
	return nil
}

func runSync(ctx context.Context) error {
	settings, store, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if !settings.Akosha.Enabled {
		return fmt.Errorf("sync is disabled; set akosha.enabled or SESSION_BUDDY_AKOSHA_ENABLED")
	}

	coordinator := session.New(store, settings, buildSyncer(ctx, settings), nil)
	result, err := coordinator.SyncNow(ctx)
	if err != nil {
		return err
	}
	if result.Sync != nil {
		log.Info().Str("method", result.Sync.Method).
			Int("files", result.Sync.FilesUploaded).
			Int("memories", result.Sync.MemoriesStored).
			Str("upload_id", result.Sync.UploadID).
			Msg("Sync complete")
	}
	return nil
}
