// Package cli wires the streamsub commands.
//
// Settings resolve in this order: command-line flags, STREAMSUB_* environment
// variables, the --config file, built-in defaults.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"streamsub/internal/config"
	"streamsub/internal/logging"
)

const envPrefix = "STREAMSUB"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// NewRootCmd constructs the command tree.
func NewRootCmd() *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:           "streamsub",
		Short:         "Subscribe to and produce server-sent event streams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error|off (default info)")
	root.PersistentFlags().String("log-format", "", "Log format: text|json (default text)")
	_ = v.BindPFlags(root.PersistentFlags())

	root.AddCommand(newSubscribeCmd(v), newServeCmd(v))
	return root
}

// resolve layers flags and environment over the config file and defaults.
func resolve(v *viper.Viper) (config.Config, error) {
	var cfg config.Config
	if p := v.GetString("config"); p != "" {
		loaded, err := config.Load(p)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	str("endpoint", &cfg.Endpoint)
	str("metrics-addr", &cfg.MetricsAddr)
	str("addr", &cfg.Addr)
	str("stream", &cfg.Stream)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	num("max-retries", &cfg.MaxRetries)
	num("retry-initial-ms", &cfg.RetryInitialMS)
	num("retry-max-ms", &cfg.RetryMaxMS)
	num("retry-hint-ms", &cfg.RetryHintMS)
	num("max-streams", &cfg.MaxStreams)
	if v.IsSet("max-body-bytes") {
		cfg.MaxBodyBytes = v.GetInt64("max-body-bytes")
	}
	if v.IsSet("color") {
		cfg.Color = v.GetBool("color")
	}
	if v.IsSet("header") {
		hs, err := parseHeaders(v.GetStringSlice("header"))
		if err != nil {
			return cfg, err
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, val := range hs {
			cfg.Headers[k] = val
		}
	}
	if v.IsSet("cors-origin") {
		cfg.CORSOrigins = v.GetStringSlice("cors-origin")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseHeaders(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, val, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, want key=value", kv)
		}
		out[k] = strings.TrimSpace(val)
	}
	return out, nil
}

func newLogger(cfg config.Config) (zerolog.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
}
