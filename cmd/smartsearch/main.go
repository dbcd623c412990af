// Command smartsearch is a terminal client for the SmartSearch answering
// service with voice input and local chat history.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jwulff/smartsearch/internal/answer"
	"github.com/jwulff/smartsearch/internal/app"
	"github.com/jwulff/smartsearch/internal/config"
	"github.com/jwulff/smartsearch/internal/daemon"
	"github.com/jwulff/smartsearch/internal/db"
	"github.com/jwulff/smartsearch/internal/logging"
	"github.com/jwulff/smartsearch/internal/voice"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	tea "github.com/charmbracelet/bubbletea"
)

var version = "dev"

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"endpoint":            config.KeyEndpoint,
	"request-field":       config.KeyRequestField,
	"timeout":             config.KeyTimeout,
	"db":                  config.KeyDBPath,
	"log-file":            config.KeyLogPath,
	"log-level":           config.KeyLogLevel,
	"speech-addr":         config.KeySpeechAddr,
	"locale":              config.KeyLocale,
	"typewriter-interval": config.KeyTypewriterInterval,
	"voice":               config.KeyVoice,
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smartsearch",
		Short:         "Ask SmartSearch from the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.Close()
			return runTUI(env)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default ~/.config/smartsearch/config.yaml)")
	pf.String("endpoint", "", "answering service URL")
	pf.String("request-field", "", "request body field: question or message")
	pf.Duration("timeout", 0, "request timeout")
	pf.String("db", "", "chat history database path")
	pf.String("log-file", "", "log file path")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("speech-addr", "", "speech daemon address (unix:///path or ws://host/path)")
	pf.String("locale", "", "speech recognition language")
	pf.Duration("typewriter-interval", 0, "reply reveal speed per character")
	pf.Bool("voice", true, "enable voice input")

	root.AddCommand(newHistoryCmd(), newMCPCmd(), newAskCmd())
	return root
}

// env holds what every subcommand opens.
type env struct {
	cfg     config.Config
	log     *slog.Logger
	store   *db.Store
	closers []io.Closer
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
}

func setup(cmd *cobra.Command) (*env, error) {
	flags := make(map[string]string)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			flags[key] = f.Value.String()
		}
	})
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(config.Options{Path: path, Flags: flags})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logging.Setup(cfg.LogPath, cfg.LogLevel.String())
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	store, err := db.Open(cfg.DBPath, log)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = store
	e.closers = append(e.closers, store)

	log.Info("starting", "version", version, "command", cmd.Name(), "endpoint", cfg.Endpoint)
	return e, nil
}

func newAnswerer(e *env) *answer.Client {
	return answer.New(e.cfg.Endpoint,
		answer.WithRequestField(e.cfg.RequestField),
		answer.WithTimeout(e.cfg.Timeout),
		answer.WithLogger(e.log),
	)
}

func runTUI(e *env) error {
	var engine *voice.Engine
	if e.cfg.Voice {
		platform := daemon.NewPlatform(e.cfg.SpeechAddr, daemon.WithPlatformLogger(e.log))
		engine = voice.New(platform, voice.WithLogger(e.log), voice.WithLocale(e.cfg.Locale))
		defer engine.Close()
	}

	m := app.New(app.Deps{
		Answerer:           newAnswerer(e),
		Store:              e.store,
		Voice:              engine,
		Logger:             e.log,
		TypewriterInterval: e.cfg.TypewriterInterval,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
