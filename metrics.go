package mqttclient

import (
	"strconv"
	"time"
)

// MetricType distinguishes the three kinds of metric a backend stores.
type MetricType int

const (
	MetricTypeCounter MetricType = iota
	MetricTypeGauge
	MetricTypeHistogram
)

var metricTypeNames = [...]string{"counter", "gauge", "histogram"}

func (t MetricType) String() string {
	if t < 0 || int(t) >= len(metricTypeNames) {
		return "unknown"
	}
	return metricTypeNames[t]
}

// MetricLabels are label pairs attached to a metric; nil means no labels.
type MetricLabels map[string]string

// Metrics is the backend the client records into. Each method returns the
// metric for name and labels, creating it on first use. Implementations
// must be safe for concurrent use.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram keeps the count and sum of observations. ObserveDuration records
// seconds.
type Histogram interface {
	Observe(value float64)
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards everything. It is the default backend.
type NoOpMetrics struct{}

func (*NoOpMetrics) Counter(string, MetricLabels) Counter     { return noOpMetric{} }
func (*NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return noOpMetric{} }
func (*NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpMetric{} }

// noOpMetric satisfies Counter, Gauge and Histogram at once.
type noOpMetric struct{}

func (noOpMetric) Inc()                          {}
func (noOpMetric) Dec()                          {}
func (noOpMetric) Set(float64)                   {}
func (noOpMetric) Add(float64)                   {}
func (noOpMetric) Sub(float64)                   {}
func (noOpMetric) Value() float64                { return 0 }
func (noOpMetric) Observe(float64)               {}
func (noOpMetric) ObserveDuration(time.Duration) {}
func (noOpMetric) Count() uint64                 { return 0 }
func (noOpMetric) Sum() float64                  { return 0 }

// Metric names recorded by the client.
const (
	// MetricConnectionAttempts is the total number of connection attempts.
	MetricConnectionAttempts = "mqtt_client_connection_attempts_total"

	// MetricConnections is the total number of successful handshakes.
	MetricConnections = "mqtt_client_connections_total"

	// MetricConnectionsLost is the total number of connections that failed
	// after the handshake.
	MetricConnectionsLost = "mqtt_client_connections_lost_total"

	// MetricConnected is 1 while a connection is established.
	MetricConnected = "mqtt_client_connected"

	// MetricMalformedPackets is the total number of malformed inbound packets.
	MetricMalformedPackets = "mqtt_client_malformed_packets_total"

	// MetricPacketsSent is the total number of packets sent.
	MetricPacketsSent = "mqtt_client_packets_sent_total"

	// MetricPacketsReceived is the total number of packets received.
	MetricPacketsReceived = "mqtt_client_packets_received_total"

	// MetricBytesSent is the total bytes written to the transport.
	MetricBytesSent = "mqtt_client_bytes_sent_total"

	// MetricMessagesDelivered is the number of inbound messages queued for Receive.
	MetricMessagesDelivered = "mqtt_client_messages_delivered_total"

	// MetricMessagesResent is the number of PUBLISH and PUBREL packets resent
	// after a reconnect.
	MetricMessagesResent = "mqtt_client_messages_resent_total"

	// MetricInflight is the number of outbound QoS 1 and QoS 2 messages not
	// yet fully acknowledged.
	MetricInflight = "mqtt_client_inflight_messages"

	// MetricReceiveQueue is the number of messages waiting for Receive.
	MetricReceiveQueue = "mqtt_client_receive_queue_length"

	// MetricPublishLatency is the time from admission to the final acknowledgment.
	MetricPublishLatency = "mqtt_client_publish_latency_seconds"
)

// Labels used by the client's metrics.
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
	LabelReasonCode = "reason_code"
)

// clientMetrics records the client's metrics through a Metrics backend.
type clientMetrics struct {
	metrics Metrics
}

func newClientMetrics(m Metrics) *clientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &clientMetrics{metrics: m}
}

func (c *clientMetrics) connectionAttempt() {
	c.metrics.Counter(MetricConnectionAttempts, nil).Inc()
}

func (c *clientMetrics) connected() {
	c.metrics.Counter(MetricConnections, nil).Inc()
	c.metrics.Gauge(MetricConnected, nil).Set(1)
}

func (c *clientMetrics) connectionLost() {
	c.metrics.Counter(MetricConnectionsLost, nil).Inc()
	c.metrics.Gauge(MetricConnected, nil).Set(0)
}

func (c *clientMetrics) disconnected() {
	c.metrics.Gauge(MetricConnected, nil).Set(0)
}

func (c *clientMetrics) malformed(packetType string, reason ReasonCode) {
	c.metrics.Counter(MetricMalformedPackets, MetricLabels{
		LabelPacketType: packetType,
		LabelReasonCode: reason.String(),
	}).Inc()
}

func (c *clientMetrics) packetSent(packetType string, n int) {
	c.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: packetType}).Inc()
	c.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

func (c *clientMetrics) packetReceived(packetType string) {
	c.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: packetType}).Inc()
}

func (c *clientMetrics) delivered(qos byte, queueLen int) {
	c.metrics.Counter(MetricMessagesDelivered, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).Inc()
	c.metrics.Gauge(MetricReceiveQueue, nil).Set(float64(queueLen))
}

func (c *clientMetrics) receiveQueue(n int) {
	c.metrics.Gauge(MetricReceiveQueue, nil).Set(float64(n))
}

func (c *clientMetrics) resent() {
	c.metrics.Counter(MetricMessagesResent, nil).Inc()
}

func (c *clientMetrics) inflight(n int) {
	c.metrics.Gauge(MetricInflight, nil).Set(float64(n))
}

func (c *clientMetrics) publishLatency(qos byte, d time.Duration) {
	c.metrics.Histogram(MetricPublishLatency, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).ObserveDuration(d)
}
