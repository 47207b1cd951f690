package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Networks) == 0 {
		return errors.New("networks must list at least one network")
	}
	seen := make(map[string]struct{}, len(c.Networks))
	for i := range c.Networks {
		n := &c.Networks[i]
		if err := n.validate(fmt.Sprintf("networks[%d]", i)); err != nil {
			return err
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("networks[%d].id %q is duplicated", i, n.ID)
		}
		seen[n.ID] = struct{}{}
	}

	if c.Supervisor.Network != "" {
		if _, ok := seen[c.Supervisor.Network]; !ok {
			return fmt.Errorf("supervisor.network %q is not a configured network", c.Supervisor.Network)
		}
	}
	if c.Supervisor.HealthCheckInterval <= 0 {
		return errors.New("supervisor.health_check_interval must be > 0")
	}
	if c.Supervisor.ReconnectThreshold < 0 {
		return errors.New("supervisor.reconnect_threshold must be >= 0")
	}
	if c.Supervisor.RetryBaseDelay > c.Supervisor.RetryMaxDelay {
		return fmt.Errorf("supervisor.retry_base_delay (%s) cannot exceed retry_max_delay (%s)",
			c.Supervisor.RetryBaseDelay, c.Supervisor.RetryMaxDelay)
	}

	if c.Auth.KeyID != "" && c.Auth.SecretPath == "" {
		return errors.New("auth.secret_path is required when auth.key_id is set")
	}

	if c.Connections.PollRateLimit < 0 {
		return errors.New("connections.poll_rate_limit must be >= 0")
	}

	if c.Database.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (n *NetworkConfig) validate(prefix string) error {
	if n.ID == "" {
		return fmt.Errorf("%s.id is required", prefix)
	}
	if n.WSURL != "" {
		if err := checkScheme(n.WSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("%s.ws_url: %w", prefix, err)
		}
	}
	if n.HTTPURL != "" {
		if err := checkScheme(n.HTTPURL, "http", "https"); err != nil {
			return fmt.Errorf("%s.http_url: %w", prefix, err)
		}
	}
	return nil
}

func checkScheme(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
