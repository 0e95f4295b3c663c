package mqttclient

import (
	"context"
	"crypto/tls"
	"time"
)

// Packet size limits.
const (
	// MaxPacketSizeProtocol is the largest packet MQTT can express.
	MaxPacketSizeProtocol uint32 = 268435455

	// MaxPacketSizeDefault is the default limit for inbound packets.
	MaxPacketSizeDefault uint32 = 4 * 1024 * 1024

	// MaxPacketSizeMinimal suits constrained devices.
	MaxPacketSizeMinimal uint32 = 16 * 1024
)

// ServerResolver discovers server URLs ("tcp://broker:1883"). The connection
// manager calls it once at the start of every pass over the servers.
type ServerResolver func(ctx context.Context) ([]string, error)

type clientOptions struct {
	// session identity, sent in every CONNECT
	clientID              string
	username              string
	password              []byte
	keepAlive             uint16
	cleanStart            bool
	sessionExpiryInterval uint32
	receiveMaximum        uint16
	topicAliasMaximum     uint16
	maxPacketSize         uint32
	userProperties        map[string]string
	will                  *WillMessage
	enhancedAuth          ClientEnhancedAuthenticator

	// endpoints and transport
	servers        []string
	serverResolver ServerResolver
	tlsConfig      *tls.Config
	dialer         Dialer
	proxyConfig    *ProxyConfig
	proxyFromEnv   bool

	connectTimeout time.Duration
	writeTimeout   time.Duration

	reconnectBackoff  time.Duration
	maxBackoff        time.Duration
	backoffJitter     float64
	backoffResetAfter time.Duration
	backoffStrategy   BackoffStrategy
	connectRateLimit  float64
	connectRateBurst  int

	onEvent              EventHandler
	logger               Logger
	metrics              Metrics
	producerInterceptors []ProducerInterceptor
	consumerInterceptors []ConsumerInterceptor

	// first error raised by an option, returned by New
	err error
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		keepAlive:         60,
		cleanStart:        true,
		connectTimeout:    10 * time.Second,
		writeTimeout:      5 * time.Second,
		reconnectBackoff:  1 * time.Second,
		maxBackoff:        60 * time.Second,
		backoffJitter:     0.2,
		backoffResetAfter: 30 * time.Second,
		connectRateLimit:  10,
		connectRateBurst:  5,
		maxPacketSize:     MaxPacketSizeDefault,
		receiveMaximum:    65535,
		logger:            NewNoOpLogger(),
		metrics:           &NoOpMetrics{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithClientID sets the client identifier. When empty the client generates
// one, and a server-assigned identifier replaces it after CONNACK.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds. Zero disables
// keep-alive unless the server imposes one.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanStart sets Clean Start on the first CONNECT. Reconnects always
// resume the session.
func WithCleanStart(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanStart = clean
	}
}

// WithTLS sets the TLS configuration for tls://, ssl://, mqtts://, wss:// and
// quic:// servers.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithDialer replaces the scheme-based dialer. The dialer receives the full
// server address as configured, e.g. "tcp://broker:1883".
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// WithProxy routes tcp, tls and WebSocket connections through an HTTP
// CONNECT or SOCKS5 proxy, e.g. "socks5://proxy:1080".
func WithProxy(proxyURL string) Option {
	return WithProxyAuth(proxyURL, "", "")
}

// WithProxyAuth is WithProxy with proxy credentials.
func WithProxyAuth(proxyURL, username, password string) Option {
	return func(o *clientOptions) {
		o.proxyConfig = &ProxyConfig{
			URL:      proxyURL,
			Username: username,
			Password: password,
		}
	}
}

// WithProxyFromEnvironment uses HTTP_PROXY, HTTPS_PROXY and NO_PROXY when
// no explicit proxy is configured.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(o *clientOptions) {
		o.proxyFromEnv = enabled
	}
}

// WithConnectTimeout bounds one dial plus handshake attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithWriteTimeout is the deadline for each packet write; a write that
// misses it drops the connection.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithReconnectBackoff sets the delay after the first failed pass over the servers.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectBackoff = d
	}
}

// WithMaxBackoff caps the delay between passes.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		o.maxBackoff = d
	}
}

// WithBackoffJitter spreads each delay uniformly over [d*(1-j), d*(1+j)].
// The value is clamped to [0, 1].
func WithBackoffJitter(j float64) Option {
	return func(o *clientOptions) {
		o.backoffJitter = min(max(j, 0), 1)
	}
}

// WithBackoffResetAfter sets how long a connection must stay up for the
// backoff to start over from the initial delay.
func WithBackoffResetAfter(d time.Duration) Option {
	return func(o *clientOptions) {
		o.backoffResetAfter = d
	}
}

// WithBackoffStrategy replaces the doubling delay. Jitter and the cap still
// apply to what the strategy returns.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) {
		o.backoffStrategy = strategy
	}
}

// WithConnectRateLimit limits connection attempts to perSecond with the given
// burst, across all servers. A non-positive rate disables the limit.
func WithConnectRateLimit(perSecond float64, burst int) Option {
	return func(o *clientOptions) {
		o.connectRateLimit = perSecond
		o.connectRateBurst = burst
	}
}

// WithWill registers a Will message the server publishes if the session
// ends without a normal DISCONNECT.
func WithWill(topic string, payload []byte, retain bool, qos byte) Option {
	return func(o *clientOptions) {
		o.will = &WillMessage{
			Topic:   topic,
			Payload: payload,
			Retain:  retain,
			QoS:     qos,
		}
	}
}

// WithWillMessage is WithWill with Will properties and delay.
func WithWillMessage(will *WillMessage) Option {
	return func(o *clientOptions) {
		o.will = will
	}
}

// WithMaxPacketSize limits inbound packets; the value is announced as
// Maximum Packet Size in CONNECT and larger packets are treated as
// malformed. Values above MaxPacketSizeProtocol are clamped.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		o.maxPacketSize = min(size, MaxPacketSizeProtocol)
	}
}

func WithSessionExpiryInterval(seconds uint32) Option {
	return func(o *clientOptions) {
		o.sessionExpiryInterval = seconds
	}
}

// WithReceiveMaximum is the number of inbound QoS 1 and 2 messages the
// server may have unacknowledged at once.
func WithReceiveMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		o.receiveMaximum = maxValue
	}
}

// WithTopicAliasMaximum lets the server use up to maxValue inbound topic
// aliases. Zero, the default, disables them.
func WithTopicAliasMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		o.topicAliasMaximum = maxValue
	}
}

// WithUserProperties adds user properties to CONNECT.
func WithUserProperties(props map[string]string) Option {
	return func(o *clientOptions) {
		o.userProperties = props
	}
}

// OnEvent receives lifecycle events on a dedicated goroutine. Handlers may
// call back into the client.
func OnEvent(handler EventHandler) Option {
	return func(o *clientOptions) {
		o.onEvent = handler
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(o *clientOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithProducerInterceptors appends interceptors run by Publish, in order,
// before the message is validated.
func WithProducerInterceptors(interceptors ...ProducerInterceptor) Option {
	return func(o *clientOptions) {
		o.producerInterceptors = append(o.producerInterceptors, interceptors...)
	}
}

// WithConsumerInterceptors appends interceptors run by Receive, in order,
// before a message is returned.
func WithConsumerInterceptors(interceptors ...ConsumerInterceptor) Option {
	return func(o *clientOptions) {
		o.consumerInterceptors = append(o.consumerInterceptors, interceptors...)
	}
}

// WithEnhancedAuthentication runs auth's AUTH exchange on every handshake.
func WithEnhancedAuthentication(auth ClientEnhancedAuthenticator) Option {
	return func(o *clientOptions) {
		o.enhancedAuth = auth
	}
}

// WithServers appends server URLs ("tcp://broker:1883", "wss://host/mqtt").
// They are tried round-robin on every connection attempt.
func WithServers(servers ...string) Option {
	return func(o *clientOptions) {
		o.servers = append(o.servers, servers...)
	}
}

// WithBrokers adds servers from a comma-separated "host[:port][/path]" list,
// see ParseBrokers. A list that fails to parse makes New return the error.
func WithBrokers(hosts string, defaultPort uint16) Option {
	return func(o *clientOptions) {
		servers, err := ParseBrokers(hosts, defaultPort)
		if err != nil {
			o.err = err
			return
		}
		o.servers = append(o.servers, servers...)
	}
}

// WithServerResolver discovers servers before each pass. On error or an
// empty result the static servers are used.
func WithServerResolver(resolver ServerResolver) Option {
	return func(o *clientOptions) {
		o.serverResolver = resolver
	}
}

func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
