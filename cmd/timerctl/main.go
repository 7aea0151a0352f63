// Package main implements timerctl, a terminal client for the floating timer.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"floatingtimer/backend/internal/clock"
	"floatingtimer/backend/internal/config"
	"floatingtimer/backend/internal/db"
	"floatingtimer/backend/internal/repository"
	"floatingtimer/backend/internal/service"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "timerctl",
	Short:        "Track time from the terminal",
	SilenceUsage: true,
}

var (
	rootDBPath  string
	rootOwnerID string
	rootVerbose bool
)

func init() {
	addStoreFlags(rootCmd.PersistentFlags())
}

func addStoreFlags(flags *pflag.FlagSet) {
	flags.StringVar(&rootDBPath, "db", "", "sqlite database path (overrides DB_PATH)")
	flags.StringVar(&rootOwnerID, "owner", "", "owner whose entries to track (overrides OWNER_ID)")
	flags.BoolVarP(&rootVerbose, "verbose", "v", false, "log store activity to stderr")
}

// session is one CLI invocation's view of the store. The timer is rehydrated
// from the database every time, so nothing is carried between commands.
type session struct {
	cfg   config.Config
	timer *service.TimerService
	close func()
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = rootDBPath
	}
	if flags.Changed("owner") {
		cfg.OwnerID = rootOwnerID
	}
	return cfg, nil
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.RunMigrations(database, db.MigrationsFS(cfg.MigrationsDir)); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	opts := service.OptionsFromConfig(cfg)
	opts.Logger = log.New(io.Discard, "", 0)
	if rootVerbose {
		opts.Logger = log.New(cmd.ErrOrStderr(), "timerctl: ", log.LstdFlags)
	}
	timer := service.NewTimerService(repository.NewEntryRepository(database), clock.System{}, opts)

	if _, err := timer.Rehydrate(cmd.Context()); err != nil {
		timer.Close()
		database.Close()
		return nil, err
	}

	return &session{
		cfg:   cfg,
		timer: timer,
		close: func() {
			timer.Close()
			database.Close()
		},
	}, nil
}

// withSession opens a session for the duration of fn.
func withSession(fn func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(cmd.Context(), cmd, s, args)
	}
}
