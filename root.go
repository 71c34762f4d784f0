package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/soocke/qrdial-go/app"
	"github.com/soocke/qrdial-go/config"
	"github.com/soocke/qrdial-go/notify"
)

var (
	logLevel   = "info"
	configPath = "qrdial.json"
	envFile    = ".env"
	debugMode  bool
)

var (
	gScan    = "Scanning:"
	gOther   = "Other:"
	cmdGroup = []string{gScan, gOther}
)

// runtimeEnv is what every command needs: configuration, logger and sink.
type runtimeEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	sink   notify.Sink
}

// loadEnv loads .env, the config file and QRDIAL_* overrides, in that order,
// and builds the logger. Flags applied by the caller win over all of them.
func loadEnv(cmd *cobra.Command) (*runtimeEnv, error) {
	level, err := parseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debugMode
	}
	if cfg.Debug && !cmd.Flags().Changed("log-level") {
		level = slog.LevelDebug
	}
	logger := NewLogger(os.Stderr, level)
	sink := notify.Multi{notify.NewConsole(cmd.ErrOrStderr()), notify.Log{Logger: logger}}
	return &runtimeEnv{cfg: cfg, logger: logger, sink: sink}, nil
}

// container builds the component graph for env.
func (e *runtimeEnv) container() (*app.Container, error) {
	_ = e.cfg.Validate()
	return app.BuildContainer(e.cfg, e.logger, e.sink, app.Options{})
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qrdial",
		Short: "qrdial reads a phone number from a QR code and opens a text message to it",
		Long: `qrdial reads a phone number from a QR code and opens a text message to it.

A code is read from a webcam, a region of the screen, a directory of
replayed frames or a single image file. The first valid phone number is
normalized and can be handed to the messaging app with a prefilled body.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", logLevel, "log level (debug, info, warn, error)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&envFile, "env-file", envFile, "dotenv file with QRDIAL_* overrides")
	globalFlags.BoolVar(&debugMode, "debug", false, "log goroutine and memory statistics")

	for _, g := range cmdGroup {
		cmd.AddGroup(&cobra.Group{ID: g, Title: g})
	}

	cmd.AddCommand(
		NewScanCommand(),
		NewDecodeCommand(),
		NewExtractCommand(),
		NewSendCommand(),
		NewDevicesCommand(),
		NewConfigCommand(),
	)
	return cmd
}
