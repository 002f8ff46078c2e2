// Package config loads ifrau command configuration from flags, IFRAU_*
// environment variables, and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gezibash/ifrau/internal/observability"
	"github.com/gezibash/ifrau/pkg/channel"
)

// EnvPrefix is the environment variable prefix (IFRAU_TARGET_ORIGIN, ...).
const EnvPrefix = "IFRAU"

// Config is the merged command configuration. TargetOrigin is where the
// client role posts ("*" for any), Src is the embedded content address for
// the host role, and Output is the result format (text, json, markdown).
type Config struct {
	TargetOrigin  string              `mapstructure:"target_origin"`
	Src           string              `mapstructure:"src"`
	Debug         bool                `mapstructure:"debug"`
	Filter        string              `mapstructure:"filter"`
	Output        string              `mapstructure:"output"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// TransportConfig selects a channel backend and its settings.
type TransportConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// ObsConfig converts to the observability package's config.
func (o ObservabilityConfig) ObsConfig() observability.ObsConfig {
	return observability.ObsConfig{
		LogLevel:       o.LogLevel,
		LogFormat:      o.LogFormat,
		OTLPEndpoint:   o.OTLPEndpoint,
		OTLPProtocol:   o.OTLPProtocol,
		ServiceName:    o.ServiceName,
		ServiceVersion: o.ServiceVersion,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target_origin", channel.Wildcard)
	v.SetDefault("debug", false)
	v.SetDefault("filter", "")
	v.SetDefault("output", "text")

	v.SetDefault("transport.backend", "grpc")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.service_name", "ifrau")
	v.SetDefault("observability.service_version", "dev")
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"log-level":     "observability.log_level",
	"log-format":    "observability.log_format",
	"metrics-addr":  "observability.metrics_addr",
	"debug":         "debug",
	"filter":        "filter",
	"output":        "output",
	"src":           "src",
	"target-origin": "target_origin",
	"backend":       "transport.backend",
	"addr":          "transport.config.addr",
	"id":            "transport.config.id",
	"origin":        "transport.config.origin",
	"counterpart":   "transport.config.counterpart",
}

// AddCommonFlags defines the flags every ifrau command accepts.
func AddCommonFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "config file path")
	f.StringP("output", "o", "", "output format (text, json, markdown)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.Bool("debug", false, "trace every protocol message")
	f.String("filter", "", "CEL expression over kind, key, origin, source; false drops the message")
	f.String("backend", "", "channel backend (grpc, redis, mem)")
	f.String("addr", "", "transport address")
	f.String("id", "", "local endpoint id")
	f.String("origin", "", "local endpoint origin")
	f.String("counterpart", "", "counterpart endpoint id (redis, mem)")
}

// AddHostFlags defines host-only flags.
func AddHostFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("src", "", "address of the embedded content; its origin is the only one accepted")
	f.String("metrics-addr", "", "metrics HTTP listen address")
}

// AddClientFlags defines client-only flags.
func AddClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("target-origin", "", `origin to post to ("*" for any)`)
}

// BindFlags binds every known flag present in fs to its config key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// FromCommand loads config for a parsed command, including the flags it
// inherits from its parents.
func FromCommand(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	BindFlags(v, cmd.Flags())
	configFile, _ := cmd.Flags().GetString("config")
	return Load(v, configFile)
}

// Load reads config from flags, env, and file, returning the merged Config.
// Without configFile, "ifrau.<ext>" is searched in ., $HOME/.ifrau and
// /etc/ifrau; a missing file is not an error unless configFile names it.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ifrau")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ifrau")
		v.AddConfigPath("/etc/ifrau")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Transport.Config = compact(cfg.Transport.Config)
	return cfg, nil
}

// compact drops empty values so unset flags do not shadow backend defaults.
func compact(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
