package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/gitsync"
	"github.com/enmesarru/glone/internal/logging"
	"github.com/enmesarru/glone/internal/progress"
)

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   logging.Level
	logFormat  logging.Format
	debugHTTP  bool
	noProgress bool
}

// app is what every command needs once the flags are parsed.
type app struct {
	paths config.Paths
	root  *config.Root
	log   *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logLevel: logging.Info, logFormat: logging.FormatText}

	cmd := &cobra.Command{
		Use:   "glone",
		Short: "Keep local git checkouts in sync with their remotes",
		Long: `glone clones, fetches, fast-forwards and merges the branches of the
repositories listed in its configuration file, in parallel.

The configuration lives in $XDG_CONFIG_HOME/.glone/config.yaml and is created
empty on first use.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "configuration file (default $XDG_CONFIG_HOME/.glone/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file with credential variables (default <config dir>/.env when present)")
	cmd.PersistentFlags().Var(logging.NewLevelFlag(&opts.logLevel), "log-level", "log level: debug, info, warn or error")
	cmd.PersistentFlags().Var(logging.NewFormatFlag(&opts.logFormat), "log-format", "console log format: text or json")
	cmd.PersistentFlags().BoolVar(&opts.debugHTTP, "debug-http", false, "log git HTTP requests and responses at debug level")
	cmd.PersistentFlags().BoolVar(&opts.noProgress, "no-progress", false, "disable progress bars")

	cmd.AddCommand(
		newRunCmd(opts),
		newWatchCmd(opts),
	)

	return cmd
}

// setup bootstraps the configuration directory, opens the logger and loads
// the configuration. A configuration that cannot be loaded is logged and
// treated as empty.
func (o *rootOptions) setup(cmd *cobra.Command) (*app, error) {
	paths := config.DefaultPaths().WithConfig(o.configFile)

	created, bootstrapErr := paths.Bootstrap()

	log, err := logging.New(logging.Config{
		Level:  o.logLevel,
		Format: o.logFormat,
		File:   paths.Log,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	if bootstrapErr != nil {
		log.Errorf("%v", bootstrapErr)
	} else if created {
		log.Infof("created empty configuration %s", paths.Config)
	}

	if err := paths.LoadEnv(o.envFile); err != nil {
		log.Close()
		return nil, err
	}

	root, err := paths.Load()
	if err != nil {
		log.Errorf("failed to load configuration %s: %v", paths.Config, err)
	}

	if o.debugHTTP {
		gitsync.InstallDebugTransport(log)
	}

	return &app{paths: paths, root: root, log: log}, nil
}

// progress returns the transfer observer and the run bar, or nils when
// progress is disabled or w is not a terminal.
func (o *rootOptions) progress(w io.Writer) (gitsync.Observer, *progress.Bar) {
	if o.noProgress || !isTerminal(w) {
		return nil, nil
	}
	return progress.NewMultiplexer(w), progress.New(w, "providers")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
