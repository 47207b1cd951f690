package config

import (
	"time"

	"github.com/rickgao/chainwatch/internal/model"
)

// Config is the root configuration for a chainwatch instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Networks    []NetworkConfig   `yaml:"networks"`
	Auth        AuthConfig        `yaml:"auth"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Connections ConnectionsConfig `yaml:"connections"`
	Database    DatabaseConfig    `yaml:"database"`
	Writers     WritersConfig     `yaml:"writers"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// NetworkConfig describes one supported chain.
type NetworkConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	ChainID int64  `yaml:"chain_id"`
	WSURL   string `yaml:"ws_url"`
	HTTPURL string `yaml:"http_url"`
}

// AuthConfig holds optional RPC endpoint credentials.
type AuthConfig struct {
	KeyID      string `yaml:"key_id"`      // Sent in the access key header
	SecretPath string `yaml:"secret_path"` // File holding the secret
}

// SupervisorConfig holds connection health supervisor settings.
type SupervisorConfig struct {
	Network             string        `yaml:"network"` // Network selected at boot
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ReconnectThreshold  time.Duration `yaml:"reconnect_threshold"`
	LostFocusTimeout    time.Duration `yaml:"lost_focus_timeout"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay       time.Duration `yaml:"retry_max_delay"`
}

// ConnectionsConfig holds transport settings for connection handles.
type ConnectionsConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PollRateLimit    float64       `yaml:"poll_rate_limit"` // Requests per second for polling handles
	HTTPMaxRetries   int           `yaml:"http_max_retries"`
}

// DatabaseConfig holds the TimescaleDB connection for heads and lifecycle events.
type DatabaseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus and health server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ModelNetworks converts the configured networks to model types.
func (c *Config) ModelNetworks() []model.Network {
	networks := make([]model.Network, 0, len(c.Networks))
	for _, n := range c.Networks {
		networks = append(networks, model.Network{
			ID:      model.NetworkID(n.ID),
			Name:    n.Name,
			ChainID: n.ChainID,
			WSURL:   n.WSURL,
			HTTPURL: n.HTTPURL,
		})
	}
	return networks
}
