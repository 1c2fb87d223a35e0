package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/loomnotes/loom/internal/collab"
	"github.com/loomnotes/loom/internal/config"
	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// Global flags shared by every subcommand
var (
	configPath string
	redisAddr  string
	canvasID   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Loom - Real-time collaborative canvas",
	Long: `Loom is a real-time collaborative canvas for positioned notes and the
edges connecting them.

Canvas state lives in Redis: durable notes and edges with a committed-change
feed, plus an ephemeral presence and broadcast channel so every viewer sees
cursors, drags, and edits as they happen.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "loom.yml", "Path to loom.yml configuration")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (overrides configuration)")
	rootCmd.PersistentFlags().StringVarP(&canvasID, "canvas", "c", "main", "Canvas to operate on")
}

// loadConfig reads loom.yml if present, falling back to built-in defaults
// when the file does not exist. An explicitly passed --config path that does
// not exist is an error; the default path is allowed to be absent.
func loadConfig(cmd *cobra.Command) (*config.LoomConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if cmd.Flags().Changed("config") {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// redisOptions resolves the Redis connection settings from flags and config.
// The --redis flag wins over loom.yml.
func redisOptions(cfg *config.LoomConfig) *redis.Options {
	opts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	if redisAddr != "" {
		opts.Addr = redisAddr
	}
	return opts
}

// resolveIdentity builds the local collaborator identity for session-backed
// commands. A user block in loom.yml wins; otherwise the environment-backed
// source decides (LOOM_USER_ID / LOOM_USER_NAME, or a generated one).
func resolveIdentity(ctx context.Context, cfg *config.LoomConfig) (collab.Identity, error) {
	if cfg.User != nil && cfg.User.ID != "" {
		return collab.Identity{
			ID:          cfg.User.ID,
			DisplayName: collab.DisplayNameOrDerived(cfg.User.Name, cfg.User.ID),
			Color:       collab.RandomColor(),
		}, nil
	}

	identity, err := collab.EnvSource{}.Identify(ctx)
	if err != nil {
		return collab.Identity{}, err
	}
	return *identity, nil
}

// sessionTuning converts the validated loom.yml tuning block into the
// session's timing knobs.
func sessionTuning(cfg *config.LoomConfig) collab.Tuning {
	ms := func(v *int) time.Duration { return time.Duration(*v) * time.Millisecond }
	return collab.Tuning{
		CursorThrottle:     ms(cfg.Tuning.CursorThrottleMs),
		ContentThrottle:    ms(cfg.Tuning.ContentThrottleMs),
		TextCursorThrottle: ms(cfg.Tuning.TextCursorThrottleMs),
		EchoWindow:         ms(cfg.Tuning.EchoWindowMs),
	}
}

// openStore connects to the canvas store for the selected canvas and
// verifies Redis connectivity before returning.
func openStore(cmd *cobra.Command) (*canvas.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	opts := redisOptions(cfg)
	store, err := canvas.NewStore(opts, canvasID)
	if err != nil {
		return nil, fmt.Errorf("failed to create canvas store: %w", err)
	}

	if err := store.Ping(cmd.Context()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return store, nil
}
