// Package cli implements the agent-loop CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/config"
	"github.com/rcliao/agent-loop/internal/generator"
	"github.com/rcliao/agent-loop/internal/handlers"
	"github.com/rcliao/agent-loop/internal/logging"
	"github.com/rcliao/agent-loop/internal/notify"
	"github.com/rcliao/agent-loop/internal/queue"
	"github.com/rcliao/agent-loop/internal/store"
	"github.com/rcliao/agent-loop/internal/supervisor"
	"github.com/rcliao/agent-loop/internal/thought"
)

var (
	rootDir      string
	configPath   string
	intervalFlag time.Duration
	verbose      bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-loop",
	Short: "Autonomous thought-to-action agent loop",
	Long:  "A long-running supervisor that turns queued and generated intents into files on disk, with a durable identity and event log.",
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVarP(&rootDir, "root", "r", "", "State root directory (default: $AGENT_LOOP_ROOT or .)")
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default: <root>/agent-loop.yaml)")
	pf.DurationVar(&intervalFlag, "interval", 0, "Sleep between ticks, overrides the config")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func getRoot() string {
	if rootDir != "" {
		return rootDir
	}
	if env := os.Getenv("AGENT_LOOP_ROOT"); env != "" {
		return env
	}
	return "."
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(getRoot(), config.DefaultFileName)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if rootDir != "" {
		cfg.Root = rootDir
	} else if cfg.Root == "." {
		cfg.Root = getRoot()
	}
	if intervalFlag > 0 {
		cfg.Loop.Interval = config.Duration(intervalFlag)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app is the opened state shared by commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.FileStore
	queue  *queue.Queue
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Verbose: verbose,
	})
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Root, store.Options{
		KeepBackups: cfg.Store.KeepBackups,
		Index:       cfg.Store.Index,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		queue:  queue.Open(st.IntentsPath(), queue.Options{Logger: logger}),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// supervisor assembles the loop. The returned notifier must be closed after
// the loop stops.
func (a *app) supervisor(generate bool) (*supervisor.Supervisor, *notify.RateLimited) {
	n := notify.NewFromConfig(a.cfg.Notify, a.logger)
	core := supervisor.Core{
		Store: a.store,
		Queue: a.queue,
		Handlers: handlers.NewRegistry(handlers.Env{
			Root:         a.cfg.Root,
			FrontendRoot: a.cfg.FrontendRoot,
			Logger:       a.logger,
		}),
		Notifier: n,
		Logger:   a.logger,
		Config:   supervisor.ConfigFrom(a.cfg),
	}
	if generate && a.cfg.Generator.Enabled {
		journal := thought.NewJournal(a.cfg.ResolvePath(a.cfg.ThoughtsFile), thought.DefaultOptions(), a.logger)
		core.Generator = generator.New(generator.Config{
			Backpressure: a.cfg.Generator.Backpressure,
			ForceEvery:   a.cfg.Generator.ForceEvery,
			Threshold:    a.cfg.Generator.Threshold,
		}, generator.WithThoughts(journal), generator.WithLogger(a.logger))
	}
	return supervisor.New(core), n
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
