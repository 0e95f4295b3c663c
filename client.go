package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitalvas/mqttclient/packet"
)

// Client is an MQTT v5 client. One Client is one logical session that
// survives any number of network connections.
//
// All session state belongs to the goroutine running Run. The other methods
// are safe for concurrent use and talk to it through channels. Calls made
// before Run starts wait for it.
type Client struct {
	options *clientOptions
	logger  Logger
	metrics *clientMetrics
	dialer  Dialer
	limiter *rate.Limiter

	session *session
	state   atomic.Int32
	running atomic.Bool

	requests   chan *request
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
	termErr    error // written once before done is closed

	received *queue[*Message]
	events   *queue[error]

	// Everything below is owned by the engine goroutine.
	runCtx         context.Context
	conn           net.Conn
	server         string
	epoch          uint64
	connectedAt    time.Time
	outboundMax    uint32
	seq            uint64
	ids            *packetIDAllocator
	inflight       *inflightStore
	pending        *pendingRegistry
	inboundQoS2    *inboundQoS2
	backlog        []*request
	flow           *flowController
	aliases        *inboundAliases
	backoff        *backoff
	servers        *serverList
	keepAlive      *keepAlive
	ticker         *time.Ticker
	retryTimer     *time.Timer
	inbound        chan inboundEvent
	connectResults chan connectResult
	attemptCancel  context.CancelFunc
	connecting     bool
	disconnectCode ReasonCode
}

// New creates a client. It does not connect; call Run for that.
// Use WithServers, WithBrokers or WithServerResolver to configure servers.
func New(opts ...Option) (*Client, error) {
	options := applyOptions(opts...)
	if options.err != nil {
		return nil, options.err
	}

	if len(options.servers) == 0 && options.serverResolver == nil {
		return nil, fmt.Errorf("%w: use WithServers(), WithBrokers() or WithServerResolver()", ErrNoServers)
	}
	if options.will != nil {
		if err := options.will.Validate(); err != nil {
			return nil, fmt.Errorf("invalid will message: %w", err)
		}
	}

	if options.clientID == "" {
		options.clientID = generateClientID()
	}

	dialer := options.dialer
	if dialer == nil {
		dialer = newSchemeDialer(options)
	}

	logger := options.logger.WithFields(LogFields{LogFieldClientID: options.clientID})

	return &Client{
		options:        options,
		logger:         logger,
		metrics:        newClientMetrics(options.metrics),
		dialer:         dialer,
		limiter:        newConnectLimiter(options.connectRateLimit, options.connectRateBurst),
		session:        newSession(options),
		requests:       make(chan *request),
		cancelCh:       make(chan struct{}),
		done:           make(chan struct{}),
		received:       newQueue[*Message](),
		events:         newQueue[error](),
		ids:            newPacketIDAllocator(),
		inflight:       newInflightStore(),
		pending:        newPendingRegistry(logger),
		inboundQoS2:    newInboundQoS2(),
		flow:           newFlowController(0),
		aliases:        newInboundAliases(options.topicAliasMaximum),
		backoff:        newBackoff(options),
		servers:        newServerList(options.servers),
		keepAlive:      newKeepAlive(0),
		inbound:        make(chan inboundEvent),
		connectResults: make(chan connectResult, 1),
	}, nil
}

// generateClientID generates a random client ID.
func generateClientID() string {
	return fmt.Sprintf("mqttclient-%d", time.Now().UnixNano())
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// IsConnected reports whether a connection is established.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ClientID returns the client identifier, as assigned by the server if it
// assigned one.
func (c *Client) ClientID() string {
	return c.session.id()
}

// Capabilities returns the limits announced by the server in the last CONNACK.
func (c *Client) Capabilities() ServerCapabilities {
	return c.session.capabilities()
}

// Done is closed when the client has stopped for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Publish sends a message. QoS 0 returns once the packet is written to the
// network; QoS 1 and 2 return the final acknowledgment. While the client is
// reconnecting the message waits and in-flight messages are resent, so only
// ctx, Cancel or Disconnect end the call early. A broker rejection is
// returned as a *PublishError together with the result.
func (c *Client) Publish(ctx context.Context, msg *Message) (*PublishResult, error) {
	if msg == nil {
		return nil, errors.New("message is nil")
	}

	msg = applyProducerInterceptors(c.logger, c.options.producerInterceptors, msg)
	if msg == nil {
		return &PublishResult{}, nil
	}

	if msg.QoS > 2 {
		return nil, ErrInvalidQoS
	}
	if err := ValidateTopicName(msg.Topic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}

	caps := c.session.capabilities()
	if msg.QoS > caps.MaximumQoS {
		return nil, fmt.Errorf("%w: QoS %d, maximum %d", ErrQoSNotSupported, msg.QoS, caps.MaximumQoS)
	}
	if msg.Retain && !caps.RetainAvailable {
		return nil, ErrRetainNotSupported
	}

	req := newRequest(requestPublish, nil)
	req.msg = msg

	res, err := c.submit(ctx, req)
	if err != nil {
		return res.publish, err
	}
	return res.publish, res.err
}

// Subscribe subscribes to topic filters and waits for the SUBACK. If the
// broker rejects a filter, the result is returned together with a
// *SubscribeError for the first rejected filter.
func (c *Client) Subscribe(ctx context.Context, subs []Subscription, props *Properties) (*SubscribeResult, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no topic filters", ErrInvalidTopic)
	}

	caps := c.session.capabilities()
	for _, sub := range subs {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
		}
		if sub.QoS > 2 {
			return nil, ErrInvalidQoS
		}
		if isSharedSubscription(sub.TopicFilter) && !caps.SharedSubAvailable {
			return nil, NewSubscribeError(sub.TopicFilter, packet.ReasonSharedSubsNotSupported)
		}
		if containsWildcard(sub.TopicFilter) && !caps.WildcardSubAvailable {
			return nil, NewSubscribeError(sub.TopicFilter, packet.ReasonWildcardSubsNotSupported)
		}
	}

	pkt := &packet.Subscribe{Subscriptions: append([]Subscription(nil), subs...)}
	if props != nil {
		pkt.Props = props.Clone()
		if pkt.Props.Has(packet.PropSubscriptionIdentifier) && !caps.SubscriptionIDAvailable {
			return nil, NewSubscribeError(subs[0].TopicFilter, packet.ReasonSubIDsNotSupported)
		}
	}

	res, err := c.submit(ctx, newRequest(requestSubscribe, pkt))
	if err != nil {
		return nil, err
	}
	return res.subscribe, res.err
}

// Unsubscribe removes subscriptions and waits for the UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters []string, props *Properties) (*UnsubscribeResult, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: no topic filters", ErrInvalidTopic)
	}
	for _, filter := range filters {
		if err := ValidateTopicFilter(filter); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
		}
	}

	pkt := &packet.Unsubscribe{TopicFilters: append([]string(nil), filters...)}
	if props != nil {
		pkt.Props = props.Clone()
	}

	res, err := c.submit(ctx, newRequest(requestUnsubscribe, pkt))
	if err != nil {
		return nil, err
	}
	return res.unsubscribe, res.err
}

// Receive returns the next inbound message, waiting until one arrives.
// When ctx is done first, ctx.Err() is returned and a message arriving later
// stays queued. Once the client has stopped, Receive drains what is left and
// then returns ErrCanceled or ErrClientClosed.
func (c *Client) Receive(ctx context.Context) (*Message, error) {
	for {
		msg, err := c.received.pop(ctx)
		if err != nil {
			return nil, err
		}
		c.metrics.receiveQueue(c.received.len())

		msg = applyConsumerInterceptors(c.logger, c.options.consumerInterceptors, msg)
		if msg != nil {
			return msg, nil
		}
	}
}

// Disconnect sends DISCONNECT with the given reason code and stops the
// client. Waiting calls fail with ErrClientClosed. Calling it again returns nil.
func (c *Client) Disconnect(ctx context.Context, reason ReasonCode) error {
	_, err := c.submit(ctx, newRequest(requestDisconnect, &packet.Disconnect{ReasonCode: reason}))
	if errors.Is(err, ErrClientClosed) {
		return nil
	}
	return err
}

// Close disconnects with reason Normal Disconnection.
func (c *Client) Close() error {
	return c.Disconnect(context.Background(), packet.ReasonSuccess)
}

// Cancel stops the client without a DISCONNECT packet, so the server
// publishes the Will. Waiting calls and Receive fail with ErrCanceled and no
// reconnection follows. It is safe to call more than once.
func (c *Client) Cancel() {
	c.cancelOnce.Do(func() {
		close(c.cancelCh)
	})

	// Nobody will ever run the engine: stop here.
	if c.running.CompareAndSwap(false, true) {
		c.termErr = ErrCanceled
		c.received.close(ErrCanceled)
		c.events.close(ErrCanceled)
		close(c.done)
	}
}

// submit hands req to the engine and waits for its resolution.
func (c *Client) submit(ctx context.Context, req *request) (response, error) {
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-c.done:
		return response{}, c.termErr
	}

	select {
	case res := <-req.done:
		return res, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// emit queues an event for the handler goroutine.
func (c *Client) emit(event error) {
	if c.options.onEvent != nil {
		c.events.push(event)
	}
}

// dispatchEvents calls the event handler for each event in order, until
// the client stops and the last event is delivered.
func (c *Client) dispatchEvents() {
	for {
		event, err := c.events.pop(context.Background())
		if err != nil {
			return
		}
		c.options.onEvent(c, event)
	}
}
