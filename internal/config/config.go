// Package config resolves the client configuration from defaults, a YAML
// file, SMARTSEARCH_* environment variables and command-line flags, in
// increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/jwulff/smartsearch/internal/answer"
	"github.com/jwulff/smartsearch/internal/daemon"
	"github.com/jwulff/smartsearch/internal/db"
	"github.com/jwulff/smartsearch/internal/typewriter"
	"github.com/jwulff/smartsearch/internal/voice"
)

// EnvPrefix is prepended to upper-cased keys for environment lookup.
const EnvPrefix = "SMARTSEARCH_"

// Configuration keys.
const (
	KeyEndpoint           = "endpoint"
	KeyRequestField       = "request_field"
	KeyTimeout            = "timeout"
	KeyDBPath             = "db_path"
	KeyLogPath            = "log_path"
	KeyLogLevel           = "log_level"
	KeySpeechAddr         = "speech_addr"
	KeyLocale             = "locale"
	KeyTypewriterInterval = "typewriter_interval"
	KeyVoice              = "voice"
)

// Source identifies where a value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Config is the resolved client configuration.
type Config struct {
	Endpoint           string
	RequestField       string
	Timeout            time.Duration
	DBPath             string
	LogPath            string
	LogLevel           slog.Level
	SpeechAddr         string
	Locale             string
	TypewriterInterval time.Duration
	Voice              bool

	sources map[string]Source
}

// Source reports where key was resolved from.
func (c Config) Source(key string) Source {
	return c.sources[key]
}

// Options controls where Load looks.
type Options struct {
	// Path is the YAML file. Empty means DefaultPath; a missing file is not an error.
	Path string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Flags holds values set explicitly on the command line.
	Flags map[string]string
}

// DefaultPath returns ~/.config/smartsearch/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "smartsearch", "config.yaml")
}

// DefaultLogPath returns ~/.smartsearch/smartsearch.log.
func DefaultLogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smartsearch", "smartsearch.log")
}

// Defaults returns the built-in values for every key.
func Defaults() map[string]string {
	return map[string]string{
		KeyEndpoint:           answer.DefaultEndpoint,
		KeyRequestField:       "question",
		KeyTimeout:            "60s",
		KeyDBPath:             db.DefaultDBPath(),
		KeyLogPath:            DefaultLogPath(),
		KeyLogLevel:           "info",
		KeySpeechAddr:         "unix://" + daemon.SocketPath(),
		KeyLocale:             voice.DefaultLocale,
		KeyTypewriterInterval: typewriter.DefaultInterval.String(),
		KeyVoice:              "true",
	}
}

// Keys lists every known key in sorted order.
func Keys() []string {
	defaults := Defaults()
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load resolves the configuration.
func Load(opts Options) (Config, error) {
	values := Defaults()
	sources := make(map[string]Source, len(values))
	for k := range values {
		sources[k] = SourceDefault
	}

	path := opts.Path
	if path == "" {
		path = DefaultPath()
	}
	file, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	for k, v := range file {
		if _, ok := values[k]; !ok {
			return Config{}, fmt.Errorf("config %s: unknown key %q", path, k)
		}
		values[k], sources[k] = v, SourceFile
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for k := range values {
		if v, ok := lookup(EnvPrefix + strings.ToUpper(k)); ok && v != "" {
			values[k], sources[k] = v, SourceEnv
		}
	}

	for k, v := range opts.Flags {
		if _, ok := values[k]; !ok {
			return Config{}, fmt.Errorf("unknown flag key %q", k)
		}
		values[k], sources[k] = v, SourceFlag
	}

	cfg, err := parse(values)
	if err != nil {
		return Config{}, err
	}
	cfg.sources = sources
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

func parse(values map[string]string) (Config, error) {
	cfg := Config{
		Endpoint:   values[KeyEndpoint],
		DBPath:     expandHome(values[KeyDBPath]),
		LogPath:    expandHome(values[KeyLogPath]),
		SpeechAddr: values[KeySpeechAddr],
	}

	switch field := values[KeyRequestField]; field {
	case "question", "message":
		cfg.RequestField = field
	default:
		return Config{}, fmt.Errorf("%s: want question or message, got %q", KeyRequestField, field)
	}

	var err error
	if cfg.Timeout, err = positiveDuration(KeyTimeout, values[KeyTimeout]); err != nil {
		return Config{}, err
	}
	if cfg.TypewriterInterval, err = positiveDuration(KeyTypewriterInterval, values[KeyTypewriterInterval]); err != nil {
		return Config{}, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(values[KeyLogLevel])); err != nil {
		return Config{}, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}

	tag, err := language.Parse(values[KeyLocale])
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", KeyLocale, err)
	}
	cfg.Locale = tag.String()

	if cfg.Voice, err = strconv.ParseBool(values[KeyVoice]); err != nil {
		return Config{}, fmt.Errorf("%s: %w", KeyVoice, err)
	}

	if cfg.Endpoint == "" {
		return Config{}, fmt.Errorf("%s: must not be empty", KeyEndpoint)
	}
	return cfg, nil
}

func positiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, s)
	}
	return d, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
