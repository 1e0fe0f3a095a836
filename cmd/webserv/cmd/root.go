package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/indigo-web/webserv"
	"github.com/indigo-web/webserv/config"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when no configuration file is passed.
const DefaultConfigPath = "conf/default.conf"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type options struct {
	check    bool
	dump     bool
	logLevel string
	pretty   bool
}

// NewRootCmd returns the webserv command. Flags are bound to the returned command only, so
// it's safe to construct it multiple times.
func NewRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:   "webserv [flags] [config]",
		Short: "A non-blocking HTTP/1.1 server with CGI support.",
		Long: `Start the servers described by the configuration file.
If no file is passed, ` + DefaultConfigPath + ` is used.
Every server listens on its own port; all of them are served by a single event loop.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	root.Flags().BoolVar(&opts.check, "check", false, "Only validate the configuration and exit.")
	root.Flags().BoolVar(&opts.dump, "dump", false, "Print the resolved configuration as JSON and exit.")
	root.Flags().StringVarP(&opts.logLevel, "log-level", "l", "info", `Minimal level of log messages.
One of trace, debug, info, warn, error, fatal, panic or disabled.`)
	root.Flags().BoolVar(&opts.pretty, "pretty", false, "Human-readable colored logs instead of JSON.")

	return root
}

func run(cmd *cobra.Command, args []string, opts options) error {
	path := DefaultConfigPath
	if len(args) > 0 {
		path = args[0]
	}

	logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.pretty)
	if err != nil {
		return err
	}

	servers, err := config.Load(path)
	if err != nil {
		return err
	}

	if opts.dump {
		data, err := json.MarshalIndent(servers, "", "  ")
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if opts.check {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration is ok\n", path)
		return nil
	}

	app := webserv.New(servers).Logger(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		app.Stop()
	}()

	return app.Serve()
}

func newLogger(w io.Writer, level string, pretty bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("bad log level: %w", err)
	}

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
