package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Picca1e-12/GenTestAI/internal/app"
	"github.com/Picca1e-12/GenTestAI/internal/config"
	"github.com/Picca1e-12/GenTestAI/internal/logging"
	"github.com/Picca1e-12/GenTestAI/internal/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gentestai",
	Short: "Watch git repositories and deliver code changes for analysis",
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp builds the full application from the config file. The caller must
// defer a.Close().
func newApp() (*app.App, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(os.Stderr, cfg.Logging.Format, cfg.Logging.Level)
	a, err := app.New(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watcher service until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.Run(ctx)
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath); err != nil {
			return err
		}
		fmt.Printf("Configuration initialized at %s\n", configPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("Configuration from %s:\n\n", configPath)
		return config.Write(os.Stdout, cfg)
	},
}

// repo command
var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage watched repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Register a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		if name == "" {
			name = filepath.Base(abs)
		}

		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		repo, err := st.CreateRepository(cmd.Context(), name, abs)
		if err != nil {
			return fmt.Errorf("registering repository: %w", err)
		}
		fmt.Printf("Registered %s (%s)\n", repo.Name, repo.ID)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		repos, err := st.ListRepositories(cmd.Context())
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("No repositories registered.")
			return nil
		}
		for _, r := range repos {
			state := " "
			if r.IsWatching {
				state = "W"
			}
			fmt.Printf("%s %-20s %-36s %s (%d changes)\n", state, r.Name, r.ID, r.Path, r.TotalChanges)
		}
		return nil
	},
}

var repoRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Remove a repository and its recorded changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := st.DeleteRepository(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("removing repository: %w", err)
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend health and change statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("AI backend: %s\n", a.Health(cmd.Context()))

		stats, err := a.Store().Stats(cmd.Context(), "")
		if err != nil {
			return err
		}
		fmt.Printf("Changes: %d total, %d sent, %d pending, %d in last 24h\n",
			stats.Total, stats.Sent, stats.Pending, stats.Last24h)
		for kind, count := range stats.ByKind {
			fmt.Printf("  %-9s %d\n", kind, count)
		}
		return nil
	},
}

// openStore opens just the persistence layer for management commands that
// do not need the watcher pipeline.
func openStore() (*store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := store.Up(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("applying migrations: %w", err)
	}
	return store.New(db), func() { db.Close() }, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gentestai.toml", "path to the configuration file")

	repoAddCmd.Flags().String("name", "", "display name (defaults to the directory name)")

	configCmd.AddCommand(configInitCmd, configListCmd)
	repoCmd.AddCommand(repoAddCmd, repoListCmd, repoRmCmd)
	rootCmd.AddCommand(serveCmd, configCmd, repoCmd, statusCmd)
}
