package mqttclient

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
brokers: "a.local,b.local:8883"
client_id: sensor-1
username: user
password: secret
keep_alive: 30
clean_start: false
session_expiry_interval: 3600
receive_maximum: 100
topic_alias_maximum: 10
max_packet_size: 65536
user_properties:
  site: lab
connect_timeout: 3s
write_timeout: 2s
reconnect:
  initial_delay: 500ms
  max_delay: 30s
  jitter: 0.1
  reset_after: 1m
  rate_limit: 2
  rate_burst: 4
proxy:
  url: socks5://proxy:1080
  username: pu
  password: pp
will:
  topic: status/sensor-1
  payload: offline
  qos: 1
  retain: true
auth:
  method: SCRAM-SHA-512
logging:
  level: debug
`

func TestParseConfig(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(fullConfig))
		require.NoError(t, err)

		assert.Equal(t, "a.local,b.local:8883", cfg.Brokers)
		assert.Equal(t, uint16(1883), cfg.DefaultPort)
		assert.Equal(t, "sensor-1", cfg.ClientID)
		assert.Equal(t, uint16(30), cfg.KeepAlive)
		require.NotNil(t, cfg.CleanStart)
		assert.False(t, *cfg.CleanStart)
		assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.InitialDelay)
		assert.Equal(t, time.Minute, cfg.Reconnect.ResetAfter)
		require.NotNil(t, cfg.Reconnect.Jitter)
		assert.InDelta(t, 0.1, *cfg.Reconnect.Jitter, 0.0001)
		assert.Equal(t, map[string]string{"site": "lab"}, cfg.UserProperties)
		require.NotNil(t, cfg.Will)
		assert.Equal(t, "status/sensor-1", cfg.Will.Topic)
		assert.Equal(t, "SCRAM-SHA-512", cfg.Auth.Method)
	})

	t.Run("minimal", func(t *testing.T) {
		cfg, err := ParseConfig([]byte("servers: [\"tcp://localhost:1883\"]\n"))
		require.NoError(t, err)

		assert.Equal(t, []string{"tcp://localhost:1883"}, cfg.Servers)
		assert.Nil(t, cfg.CleanStart)
		assert.Nil(t, cfg.Will)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := ParseConfig([]byte("brokers: [unclosed"))
		assert.ErrorContains(t, err, "parsing config")
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("MQTT_BROKERS", "env.local")
		t.Setenv("MQTT_USERNAME", "env-user")
		t.Setenv("MQTT_PASSWORD", "env-pass")

		cfg, err := ParseConfig([]byte("servers: [\"tcp://file:1883\"]\nusername: file-user\n"))
		require.NoError(t, err)

		assert.Equal(t, "env.local", cfg.Brokers)
		assert.Nil(t, cfg.Servers)
		assert.Equal(t, "env-user", cfg.Username)
		assert.Equal(t, "env-pass", cfg.Password)
	})
}

func TestConfigValidate(t *testing.T) {
	jitter := 1.5

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"no servers", Config{}, "brokers or servers is required"},
		{"bad brokers", Config{Brokers: ":1883"}, "brokers:"},
		{"will qos", Config{Servers: []string{"tcp://a:1"}, Will: &WillConfig{Topic: "a", QoS: 3}}, "will.qos"},
		{"will topic", Config{Servers: []string{"tcp://a:1"}, Will: &WillConfig{Topic: "a/#"}}, "will.topic"},
		{"jitter", Config{Servers: []string{"tcp://a:1"}, Reconnect: ReconnectConfig{Jitter: &jitter}}, "reconnect.jitter"},
		{"cert without key", Config{Servers: []string{"tcp://a:1"}, TLS: TLSFileConfig{CertFile: "c.pem"}}, "tls.cert_file"},
		{"auth method", Config{Servers: []string{"tcp://a:1"}, Auth: AuthConfig{Method: "PLAIN"}}, "auth.method"},
		{"log level", Config{Servers: []string{"tcp://a:1"}, Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("all errors reported", func(t *testing.T) {
		cfg := Config{Will: &WillConfig{Topic: "", QoS: 5}}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "brokers or servers is required")
		assert.Contains(t, err.Error(), "will.qos")
		assert.Contains(t, err.Error(), "will.topic")
	})
}

func TestConfigOptions(t *testing.T) {
	cfg, err := ParseConfig([]byte(fullConfig))
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)

	o := applyOptions(opts...)
	require.NoError(t, o.err)

	assert.Equal(t, []string{"tcp://a.local:1883", "tcp://b.local:8883"}, o.servers)
	assert.Equal(t, "sensor-1", o.clientID)
	assert.Equal(t, "user", o.username)
	assert.Equal(t, []byte("secret"), o.password)
	assert.Equal(t, uint16(30), o.keepAlive)
	assert.False(t, o.cleanStart)
	assert.Equal(t, uint32(3600), o.sessionExpiryInterval)
	assert.Equal(t, uint16(100), o.receiveMaximum)
	assert.Equal(t, uint16(10), o.topicAliasMaximum)
	assert.Equal(t, uint32(65536), o.maxPacketSize)
	assert.Equal(t, 3*time.Second, o.connectTimeout)
	assert.Equal(t, 2*time.Second, o.writeTimeout)
	assert.Equal(t, 500*time.Millisecond, o.reconnectBackoff)
	assert.Equal(t, 30*time.Second, o.maxBackoff)
	assert.InDelta(t, 0.1, o.backoffJitter, 0.0001)
	assert.Equal(t, time.Minute, o.backoffResetAfter)
	assert.InDelta(t, 2.0, o.connectRateLimit, 0.0001)
	assert.Equal(t, 4, o.connectRateBurst)

	require.NotNil(t, o.proxyConfig)
	assert.Equal(t, "socks5://proxy:1080", o.proxyConfig.URL)
	assert.Equal(t, "pu", o.proxyConfig.Username)

	require.NotNil(t, o.will)
	assert.Equal(t, []byte("offline"), o.will.Payload)
	assert.True(t, o.will.Retain)

	require.NotNil(t, o.enhancedAuth)
	assert.Equal(t, "SCRAM-SHA-512", o.enhancedAuth.AuthMethod())

	logger, ok := o.logger.(*StdLogger)
	require.True(t, ok)
	assert.Equal(t, LogLevelDebug, logger.Level())

	t.Run("color logger", func(t *testing.T) {
		cfg := &Config{Servers: []string{"tcp://a:1"}, Logging: LoggingConfig{Level: "warn", Color: true}}

		opts, err := cfg.Options()
		require.NoError(t, err)
		o := applyOptions(opts...)

		logger, ok := o.logger.(*ColorLogger)
		require.True(t, ok)
		assert.Equal(t, LogLevelWarn, logger.Level())
	})

	t.Run("json logger", func(t *testing.T) {
		cfg := &Config{Servers: []string{"tcp://a:1"}, Logging: LoggingConfig{Level: "error", JSON: true, Color: true}}

		opts, err := cfg.Options()
		require.NoError(t, err)
		o := applyOptions(opts...)

		logger, ok := o.logger.(*SlogLogger)
		require.True(t, ok)
		assert.Equal(t, LogLevelError, logger.Level())
	})

	t.Run("proxy from environment", func(t *testing.T) {
		cfg := &Config{Servers: []string{"tcp://a:1"}, Proxy: ProxyFileConfig{FromEnvironment: true}}

		opts, err := cfg.Options()
		require.NoError(t, err)
		assert.True(t, applyOptions(opts...).proxyFromEnv)
	})
}

func TestConfigTLS(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := &Config{Servers: []string{"tls://a:8883"}, TLS: TLSFileConfig{Enabled: true, ServerName: "a"}}

		opts, err := cfg.Options()
		require.NoError(t, err)

		o := applyOptions(opts...)
		require.NotNil(t, o.tlsConfig)
		assert.Equal(t, "a", o.tlsConfig.ServerName)
		assert.Nil(t, o.tlsConfig.RootCAs)
	})

	t.Run("missing CA file", func(t *testing.T) {
		cfg := &Config{TLS: TLSFileConfig{Enabled: true, CAFile: filepath.Join(t.TempDir(), "missing.pem")}}

		_, err := cfg.Options()
		assert.ErrorContains(t, err, "reading CA file")
	})

	t.Run("CA file without certificates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

		cfg := &Config{TLS: TLSFileConfig{Enabled: true, CAFile: path}}
		_, err := cfg.Options()
		assert.ErrorContains(t, err, "no certificates found")
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.yaml")
		require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "sensor-1", cfg.ClientID)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "reading config file")
	})
}
