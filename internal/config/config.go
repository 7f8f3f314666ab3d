package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/logger"
)

var (
	activeMu sync.Mutex
	active   *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/phi-guard/")
	v.AddConfigPath("$HOME/.phi-guard/")

	// Environment variable overrides, e.g. PHIGUARD_STORE_DRIVER=redis
	v.SetEnvPrefix("PHIGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	activeMu.Lock()
	active = v
	activeMu.Unlock()

	return config, nil
}

// bindEnvDefaults registers the scalar keys that are commonly overridden from the
// environment; viper only consults env vars for keys it already knows about.
func bindEnvDefaults(v *viper.Viper) {
	for _, key := range []string{
		"server.port",
		"phi.mode",
		"store.driver",
		"store.key_prefix",
		"store.redis.url",
		"store.postgres.database_url",
		"store.bolt.path",
		"audit.websocket.username",
		"audit.websocket.password",
		"logging.level",
		"logging.format",
	} {
		_ = v.BindEnv(key)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", config.Server.MaxBodyBytes)
	}

	if _, err := config.Server.TrustedNetworks(); err != nil {
		return err
	}

	if _, err := config.PHI.Policy(); err != nil {
		return fmt.Errorf("phi: %w", err)
	}

	for tenant, phi := range config.Tenants {
		if _, err := phi.merged(config.PHI).Policy(); err != nil {
			return fmt.Errorf("tenant %q: %w", tenant, err)
		}
	}

	switch config.Store.Driver {
	case "memory", "redis", "postgres", "bolt":
	default:
		return fmt.Errorf("invalid store driver: %s (must be memory, redis, postgres, or bolt)", config.Store.Driver)
	}

	if config.Store.Driver == "bolt" && config.Store.Bolt.Path == "" {
		return fmt.Errorf("store.bolt.path is required for the bolt driver")
	}

	if ws := config.Audit.WebSocket; ws.Enabled && (ws.Username == "" || ws.Password == "") {
		return fmt.Errorf("audit.websocket requires username and password when enabled")
	}

	if config.Security.RateLimit.Enabled && config.Security.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.Security.RateLimit.RequestsPerMin)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.ETL.BatchSize <= 0 || config.ETL.WorkerCount <= 0 {
		return fmt.Errorf("invalid etl settings: batch_size=%d worker_count=%d", config.ETL.BatchSize, config.ETL.WorkerCount)
	}

	return nil
}

// Watch starts watching the loaded configuration file for changes.
// Invalid revisions are logged and ignored; the callback only sees valid configs.
func Watch(log *logger.Logger, callback func(*Config)) error {
	activeMu.Lock()
	v := active
	activeMu.Unlock()

	if v == nil {
		return errors.New("no configuration loaded")
	}
	if v.ConfigFileUsed() == "" {
		return errors.New("configuration was not loaded from a file")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			log.Error("Failed to reload configuration", zap.String("file", e.Name), zap.Error(err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			log.Error("Reloaded configuration is invalid, keeping previous", zap.String("file", e.Name), zap.Error(err))
			return
		}

		log.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}

// TrustedNetworks parses server.trusted_proxies. A bare IP is taken as a single-host network.
func (s ServerConfig) TrustedNetworks() ([]*net.IPNet, error) {
	networks := make([]*net.IPNet, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			networks = append(networks, network)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", entry)
		}
		bits := 8 * net.IPv6len
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 8*net.IPv4len
		}
		networks = append(networks, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return networks, nil
}
