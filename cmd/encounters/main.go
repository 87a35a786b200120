// Command encounters detects vessel encounters in AIS position data.
//
// Settings come from flags, then ENCOUNTERS_* environment variables, then an
// optional encounters.yaml (or .json, .toml) in the working directory or the
// file named by --config.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/banshee-data/encounters.report/internal/config"
	"github.com/banshee-data/encounters.report/internal/db"
	"github.com/banshee-data/encounters.report/internal/monitoring"
)

const envPrefix = "ENCOUNTERS"

// app carries the resolved settings shared by every subcommand.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "encounters",
		Short:         "Detect sustained vessel encounters in AIS position data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			l, err := monitoring.NewLogger(cmd.ErrOrStderr(), a.v.GetString("log-format"), a.v.GetString("log-level"))
			if err != nil {
				return err
			}
			monitoring.SetLogger(l)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "settings file (default ./encounters.yaml)")
	pf.String("db", "encounters.db", "path to the SQLite database")
	pf.String("tuning", "", "tuning JSON file (default: built-in defaults)")
	pf.String("model-version", "encounters-v1", "model version tag for stored encounters")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	for _, name := range []string{"db", "tuning", "model-version", "log-format", "log-level"} {
		if err := a.v.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		a.newImportCmd(),
		a.newRunCmd(),
		a.newMigrateCmd(),
		a.newReportCmd(),
		a.newPlotCmd(),
		a.newServeCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig wires environment variables and the optional settings file
// under the already bound flags.
func (a *app) loadConfig(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("encounters")
		a.v.AddConfigPath(".")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read settings: %w", err)
		}
	}
	return nil
}

// tuning loads the tuning file, or the defaults when none is set.
func (a *app) tuning() (*config.TuningConfig, error) {
	path := a.v.GetString("tuning")
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// openDB opens the database and brings its schema up to date.
func (a *app) openDB() (*db.DB, error) {
	return db.NewDB(a.v.GetString("db"))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		monitoring.Logger().Error("command failed", "err", err)
		stop()
		os.Exit(1)
	}
}
