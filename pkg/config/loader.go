package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. TRIBUTARY_STORE_DRIVER.
const EnvPrefix = "TRIBUTARY"

// envKeys are bound explicitly so nested keys resolve from the environment
// even when the config file does not mention them.
var envKeys = []string{
	"logging.level",
	"logging.encoding",
	"logging.development",
	"store.driver",
	"store.schema_prefix",
	"store.max_conns",
	"credentials.backend",
	"credentials.path",
	"credentials.url",
	"credentials.service_url",
	"credentials.api_key",
	"http.request_timeout",
	"http.rate_limit",
	"sync.lookback",
	"sync.max_records",
	"sync.max_pages",
	"manager.cache_ttl",
	"archive.backend",
	"archive.bucket",
	"archive.region",
	"events.backend",
	"events.topic",
	"server.addr",
	"observability.tracing_enabled",
}

// Load reads configuration from path (optional), the environment and any
// bound flags, layered over Default().
func Load(path string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tributary")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tributary")
		v.AddConfigPath("/etc/tributary/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	// The analytics store conventionally comes from DATABASE_URL.
	if err := v.BindEnv("store.url", EnvPrefix+"_STORE_URL", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind env for store.url: %w", err)
	}
	if err := v.BindEnv("events.brokers", EnvPrefix+"_EVENTS_BROKERS", "KAFKA_BROKERS"); err != nil {
		return nil, fmt.Errorf("failed to bind env for events.brokers: %w", err)
	}

	for _, fs := range flags {
		if fs == nil {
			continue
		}
		if f := fs.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("logging.level", f); err != nil {
				return nil, fmt.Errorf("failed to bind flag log-level: %w", err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !asConfigNotFound(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	// Unmarshal only sees file and env values; flags and single env keys are
	// resolved through Get so explicit overrides always win.
	if lvl := v.GetString("logging.level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if url := v.GetString("store.url"); url != "" {
		cfg.Store.URL = url
	}
	if brokers := v.GetString("events.brokers"); brokers != "" && len(cfg.Events.Brokers) == 0 {
		cfg.Events.Brokers = strings.Split(brokers, ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func asConfigNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}
