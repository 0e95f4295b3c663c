// Package mqttclient provides an MQTT v5.0 client that keeps one logical
// session alive across any number of network connections.
//
// This package implements the client side of the MQTT Version 5.0 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/mqtt-v5.0.html
//
// # Features
//
//   - Publish with QoS 0, 1 and 2, Subscribe, Unsubscribe and Receive
//   - Automatic reconnection over a list of servers with exponential backoff
//   - Retransmission of unacknowledged packets after a reconnect
//   - Flow control against the server's Receive Maximum
//   - Transports: TCP, TLS, WebSocket, WSS, QUIC and Unix sockets
//   - HTTP CONNECT and SOCKS5 proxies
//   - Enhanced authentication with SCRAM-SHA-1/256/512
//
// The wire codec lives in the packet subpackage.
//
// # Client
//
// A Client does not connect on creation. Run owns the session and returns
// only when the client stops:
//
//	client, err := mqttclient.New(
//	    mqttclient.WithBrokers("broker1,broker2:1884", 1883),
//	    mqttclient.WithClientID("my-client"),
//	    mqttclient.WithKeepAlive(60),
//	)
//	go client.Run(ctx)
//	defer client.Close()
//
// Publish, Subscribe and Unsubscribe block until the server acknowledges the
// packet. While the client is reconnecting they wait, and unacknowledged
// packets are sent again on the new connection:
//
//	res, err := client.Publish(ctx, &mqttclient.Message{
//	    Topic:   "sensors/temperature",
//	    Payload: []byte("21.5"),
//	    QoS:     1,
//	})
//
// Inbound messages are read with Receive:
//
//	for {
//	    msg, err := client.Receive(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    handle(msg)
//	}
//
// Cancel stops the client without DISCONNECT, so the server publishes the Will.
// Disconnect sends DISCONNECT with a reason code first.
//
// # Servers
//
// Server addresses are URLs. The scheme selects the transport:
//
//	tcp://host:1883      mqtt://host:1883
//	ssl://host:8883      mqtts://host:8883
//	ws://host:8080/mqtt  wss://host:8443/mqtt
//	quic://host:14567    unix:///var/run/mqtt.sock
//
// A server may redirect the client with Use Another Server or Server Moved;
// the referenced server is tried first on the next attempt.
//
// # Events
//
// Lifecycle events are delivered to the OnEvent handler on its own
// goroutine. Events are errors, inspected with errors.Is and errors.As:
//
//	mqttclient.OnEvent(func(c *mqttclient.Client, event error) {
//	    var reconnect *mqttclient.ReconnectEvent
//	    if errors.As(event, &reconnect) {
//	        log.Printf("reconnecting in %s", reconnect.Delay)
//	    }
//	})
//
// # Configuration
//
// A client can be described in YAML:
//
//	cfg, err := mqttclient.LoadConfig("client.yaml")
//	opts, err := cfg.Options()
//	client, err := mqttclient.New(opts...)
//
// # Metrics
//
// Use the built-in metrics collectors for operational metrics:
//
//	metrics := mqttclient.NewMemoryMetrics()
//	client, err := mqttclient.New(mqttclient.WithMetrics(metrics), ...)
//
// # Logging
//
// Implement the Logger interface for structured logging:
//
//	logger := mqttclient.NewStdLogger(os.Stdout, mqttclient.LogLevelInfo)
//	logger.Info("client connected", mqttclient.LogFields{"client_id": "test"})
package mqttclient
