package mqttclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a YAML description of a client. Credentials and brokers can be
// overridden by the MQTT_USERNAME, MQTT_PASSWORD and MQTT_BROKERS
// environment variables.
type Config struct {
	Brokers     string   `yaml:"brokers"`
	DefaultPort uint16   `yaml:"default_port"`
	Servers     []string `yaml:"servers"`

	ClientID   string `yaml:"client_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	KeepAlive  uint16 `yaml:"keep_alive"`
	CleanStart *bool  `yaml:"clean_start"`

	SessionExpiryInterval uint32            `yaml:"session_expiry_interval"`
	ReceiveMaximum        uint16            `yaml:"receive_maximum"`
	TopicAliasMaximum     uint16            `yaml:"topic_alias_maximum"`
	MaxPacketSize         uint32            `yaml:"max_packet_size"`
	UserProperties        map[string]string `yaml:"user_properties"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	TLS       TLSFileConfig   `yaml:"tls"`
	Proxy     ProxyFileConfig `yaml:"proxy"`
	Will      *WillConfig     `yaml:"will"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ReconnectConfig contains the reconnect policy.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       *float64      `yaml:"jitter"`
	ResetAfter   time.Duration `yaml:"reset_after"`
	RateLimit    float64       `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
}

// TLSFileConfig contains TLS settings for ssl://, mqtts:// and wss:// servers.
type TLSFileConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ProxyFileConfig contains proxy settings.
type ProxyFileConfig struct {
	URL             string `yaml:"url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	FromEnvironment bool   `yaml:"from_environment"`
}

// WillConfig describes the Will message.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     byte   `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// AuthConfig selects SCRAM enhanced authentication. Method is one of
// SCRAM-SHA-1, SCRAM-SHA-256 or SCRAM-SHA-512; empty disables it.
type AuthConfig struct {
	Method string `yaml:"method"`
}

// LoggingConfig selects the logger: JSON lines through log/slog, colored
// text, or plain text.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
	JSON  bool   `yaml:"json"`
}

// LoadConfig reads, parses and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration, applies environment overrides
// and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{DefaultPort: 1883}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MQTT_BROKERS"); v != "" {
		cfg.Brokers = v
		cfg.Servers = nil
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Brokers == "" && len(c.Servers) == 0 {
		errs = append(errs, "brokers or servers is required")
	}
	if c.Brokers != "" {
		if _, err := ParseBrokers(c.Brokers, c.DefaultPort); err != nil {
			errs = append(errs, fmt.Sprintf("brokers: %v", err))
		}
	}
	if c.Will != nil {
		if c.Will.QoS > 2 {
			errs = append(errs, "will.qos must be 0, 1, or 2")
		}
		if err := ValidateTopicName(c.Will.Topic); err != nil {
			errs = append(errs, fmt.Sprintf("will.topic: %v", err))
		}
	}
	if c.Reconnect.Jitter != nil && (*c.Reconnect.Jitter < 0 || *c.Reconnect.Jitter > 1) {
		errs = append(errs, "reconnect.jitter must be between 0 and 1")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, "tls.cert_file and tls.key_file must be set together")
	}
	if c.Auth.Method != "" {
		if _, err := parseSCRAMHash(c.Auth.Method); err != nil {
			errs = append(errs, fmt.Sprintf("auth.method: %v", err))
		}
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func parseSCRAMHash(method string) (SCRAMHash, error) {
	switch strings.ToUpper(method) {
	case "SCRAM-SHA-1":
		return SCRAMHashSHA1, nil
	case "SCRAM-SHA-256":
		return SCRAMHashSHA256, nil
	case "SCRAM-SHA-512":
		return SCRAMHashSHA512, nil
	default:
		return 0, fmt.Errorf("unsupported method %q", method)
	}
}

// Options converts the configuration into client options. Options passed
// to New after these override them.
func (c *Config) Options() ([]Option, error) {
	var opts []Option

	if c.Brokers != "" {
		opts = append(opts, WithBrokers(c.Brokers, c.DefaultPort))
	}
	if len(c.Servers) > 0 {
		opts = append(opts, WithServers(c.Servers...))
	}

	if c.ClientID != "" {
		opts = append(opts, WithClientID(c.ClientID))
	}
	if c.Username != "" || c.Password != "" {
		opts = append(opts, WithCredentials(c.Username, c.Password))
	}
	if c.KeepAlive > 0 {
		opts = append(opts, WithKeepAlive(c.KeepAlive))
	}
	if c.CleanStart != nil {
		opts = append(opts, WithCleanStart(*c.CleanStart))
	}

	if c.SessionExpiryInterval > 0 {
		opts = append(opts, WithSessionExpiryInterval(c.SessionExpiryInterval))
	}
	if c.ReceiveMaximum > 0 {
		opts = append(opts, WithReceiveMaximum(c.ReceiveMaximum))
	}
	if c.TopicAliasMaximum > 0 {
		opts = append(opts, WithTopicAliasMaximum(c.TopicAliasMaximum))
	}
	if c.MaxPacketSize > 0 {
		opts = append(opts, WithMaxPacketSize(c.MaxPacketSize))
	}
	if len(c.UserProperties) > 0 {
		opts = append(opts, WithUserProperties(c.UserProperties))
	}

	if c.ConnectTimeout > 0 {
		opts = append(opts, WithConnectTimeout(c.ConnectTimeout))
	}
	if c.WriteTimeout > 0 {
		opts = append(opts, WithWriteTimeout(c.WriteTimeout))
	}

	r := c.Reconnect
	if r.InitialDelay > 0 {
		opts = append(opts, WithReconnectBackoff(r.InitialDelay))
	}
	if r.MaxDelay > 0 {
		opts = append(opts, WithMaxBackoff(r.MaxDelay))
	}
	if r.Jitter != nil {
		opts = append(opts, WithBackoffJitter(*r.Jitter))
	}
	if r.ResetAfter > 0 {
		opts = append(opts, WithBackoffResetAfter(r.ResetAfter))
	}
	if r.RateLimit != 0 {
		opts = append(opts, WithConnectRateLimit(r.RateLimit, r.RateBurst))
	}

	if c.TLS.Enabled {
		tlsConfig, err := c.TLS.build()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTLS(tlsConfig))
	}

	switch {
	case c.Proxy.URL != "" && c.Proxy.Username != "":
		opts = append(opts, WithProxyAuth(c.Proxy.URL, c.Proxy.Username, c.Proxy.Password))
	case c.Proxy.URL != "":
		opts = append(opts, WithProxy(c.Proxy.URL))
	case c.Proxy.FromEnvironment:
		opts = append(opts, WithProxyFromEnvironment(true))
	}

	if c.Will != nil {
		opts = append(opts, WithWill(c.Will.Topic, []byte(c.Will.Payload), c.Will.Retain, c.Will.QoS))
	}

	if c.Auth.Method != "" {
		hash, err := parseSCRAMHash(c.Auth.Method)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithEnhancedAuthentication(NewSCRAMClient(hash, c.Username, c.Password)))
	}

	if c.Logging.Level != "" {
		level, err := ParseLogLevel(c.Logging.Level)
		if err != nil {
			return nil, err
		}
		switch {
		case c.Logging.JSON:
			opts = append(opts, WithLogger(NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)), level)))
		case c.Logging.Color:
			opts = append(opts, WithLogger(NewColorLogger(os.Stderr, level)))
		default:
			opts = append(opts, WithLogger(NewStdLogger(os.Stderr, level)))
		}
	}

	return opts, nil
}

func (t TLSFileConfig) build() (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec // opt-in for test brokers
		MinVersion:         tls.VersionTLS12,
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA file")
		}
		cfg.RootCAs = pool
	}

	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
