package commands

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/studentprep/cmd/cli/config"
	"github.com/inferloop/studentprep/internal/storage"
	"github.com/inferloop/studentprep/pkg/constants"
)

// GlobalOptions are the flags shared by every command.
type GlobalOptions struct {
	ConfigFile string
	Verbose    bool
	LogFormat  string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	globals := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "studentprep",
		Short: "Student records cleaning CLI",
		Long: `A command-line interface for cleaning raw student performance records
into a consistent, model-ready table.`,
		Version:       constants.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&globals.ConfigFile, "config", "", "config file (default is $HOME/.studentprep/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&globals.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&globals.LogFormat, "log-format", constants.DefaultLogFormat, "Log format (text, json)")

	rootCmd.AddCommand(NewCleanCmd(globals))
	rootCmd.AddCommand(NewReconcileCmd(globals))
	rootCmd.AddCommand(NewProfileCmd(globals))

	return rootCmd
}

// load reads the layered configuration for cmd and builds its logger.
func (g *GlobalOptions) load(cmd *cobra.Command) (*config.CLIConfig, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(g.ConfigFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	return cfg, g.newLogger(cfg.Logging, cmd.ErrOrStderr()), nil
}

func (g *GlobalOptions) newLogger(logging config.LoggingConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if g.Verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// newFactory opens remote locations with the configured credentials.
func newFactory(cfg *config.CLIConfig, logger *logrus.Logger) *storage.Factory {
	return storage.NewFactory(&cfg.Storage, logger)
}
