// Command ContactPipe runs the contact intake bot.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BTreeMap/ContactPipe/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootFlags hold the command-line overrides of the environment.
type rootFlags struct {
	stateDir  string
	dbDSN     string
	logLevel  string
	logFile   string
	transport string
	host      string
	port      int
}

func newRootCmd() *cobra.Command {
	var (
		flags rootFlags
		cfg   config.Config
	)
	cmd := &cobra.Command{
		Use:          "ContactPipe",
		Short:        "Chat bot that collects accountant contacts into a Notion database",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			applyFlags(cmd, &cfg, flags)
			initializeLogger(cfg.LogLevel, cfg.LogFile, os.Stdout)
			slog.Debug("ContactPipe configuration resolved",
				"command", cmd.Name(),
				"transport", cfg.Transport,
				"state_dir", cfg.StateDir,
				"addr", cfg.Addr())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.stateDir, "state-dir", "", "state directory (overrides $CONTACTPIPE_STATE_DIR)")
	pf.StringVar(&flags.dbDSN, "db-dsn", "", "SQLite path or Postgres DSN for the dedup and audit store (overrides $DATABASE_URL)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	pf.StringVar(&flags.logFile, "log-file", "", "also write logs to this rotated file (overrides $LOG_FILE)")
	pf.StringVar(&flags.transport, "transport", "", "chat transport: telegram, whatsapp or twilio (overrides $TRANSPORT)")
	pf.StringVar(&flags.host, "host", "", "HTTP listen host (overrides $HOST)")
	pf.IntVar(&flags.port, "port", 0, "HTTP listen port (overrides $PORT)")

	cmd.AddCommand(newServeCmd(&cfg))
	cmd.AddCommand(newPollCmd(&cfg))
	cmd.AddCommand(newVerifySchemaCmd(&cfg))
	return cmd
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f rootFlags) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("state-dir") {
		cfg.SetStateDir(f.stateDir)
	}
	if changed("db-dsn") {
		cfg.DatabaseURL = f.dbDSN
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if changed("transport") {
		cfg.Transport = f.transport
	}
	if changed("host") {
		cfg.Host = f.host
	}
	if changed("port") {
		cfg.Port = f.port
	}
}

// initializeLogger installs a text handler on stdout, teed to a size-rotated
// file when logFile is set.
func initializeLogger(level, logFile string, stdout io.Writer) {
	out := stdout
	if logFile != "" {
		out = io.MultiWriter(stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: config.ParseLevel(level)}))
	slog.SetDefault(logger)
}
