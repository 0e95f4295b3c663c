// Package rpc provides request/response functionality for MQTT v5.0 clients.
// It uses MQTT v5.0 correlation data and response topic properties to match
// requests with their responses.
// MQTT v5.0 spec: Section 4.10 (Request / Response)
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalvas/mqttclient"
	"github.com/vitalvas/mqttclient/extensions/router"
	"github.com/vitalvas/mqttclient/packet"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrHandlerClosed is returned to calls waiting when the handler is closed.
	ErrHandlerClosed = errors.New("rpc: handler closed")

	// ErrNoResponseTopic is returned by Reply for a request without a
	// Response Topic.
	ErrNoResponseTopic = errors.New("rpc: request has no response topic")
)

// Headers travel as User Properties. A repeated key keeps its last value.
type Headers map[string]string

type Request struct {
	Payload     []byte
	Headers     Headers
	ContentType string
}

type Response struct {
	Payload         []byte
	Headers         Headers
	ContentType     string
	CorrelationData []byte
}

// Publisher is the part of *mqttclient.Client needed to answer requests.
type Publisher interface {
	Publish(ctx context.Context, msg *mqttclient.Message) (*mqttclient.PublishResult, error)
}

// Client is the part of *mqttclient.Client a Handler needs.
type Client interface {
	Publisher
	ClientID() string
	Subscribe(ctx context.Context, subs []mqttclient.Subscription, props *mqttclient.Properties) (*mqttclient.SubscribeResult, error)
	Unsubscribe(ctx context.Context, filters []string, props *mqttclient.Properties) (*mqttclient.UnsubscribeResult, error)
}

// Handler issues requests and matches responses by Correlation Data.
// Responses reach it through the router passed to NewHandler, so that
// router must be fed from the client's Receive loop.
type Handler struct {
	client        Client
	responseTopic string
	qos           byte
	seq           atomic.Uint64

	mu         sync.Mutex
	correlData map[string]chan *Response // correlation id -> waiting call
	closed     bool
}

type HandlerOptions struct {
	// ResponseTopic defaults to "rpc/response/{clientID}".
	ResponseTopic string

	// QoS applies to requests and to the response subscription.
	QoS byte
}

// NewHandler subscribes to the response topic and registers the response
// route on r.
func NewHandler(ctx context.Context, client Client, r *router.Router, opts *HandlerOptions) (*Handler, error) {
	if client == nil {
		return nil, errors.New("rpc: client is required")
	}
	if r == nil {
		return nil, errors.New("rpc: router is required")
	}

	if opts == nil {
		opts = &HandlerOptions{}
	}

	responseTopic := opts.ResponseTopic
	if responseTopic == "" {
		responseTopic = fmt.Sprintf("rpc/response/%s", client.ClientID())
	}

	h := &Handler{
		client:        client,
		correlData:    make(map[string]chan *Response),
		responseTopic: responseTopic,
		qos:           opts.QoS,
	}

	r.Handle(h.handleResponse, router.WithTopic(responseTopic))

	subs := []mqttclient.Subscription{{TopicFilter: responseTopic, QoS: opts.QoS}}
	if _, err := client.Subscribe(ctx, subs, nil); err != nil {
		return nil, fmt.Errorf("rpc: failed to subscribe to response topic: %w", err)
	}

	return h, nil
}

// ResponseTopic returns the configured response topic.
func (h *Handler) ResponseTopic() string {
	return h.responseTopic
}

// Call publishes req to topic and waits for the matching response. A
// deadline on ctx ends the wait with ErrTimeout; Close ends it with
// ErrHandlerClosed.
func (h *Handler) Call(ctx context.Context, topic string, req *Request) (*Response, error) {
	if req == nil {
		req = &Request{}
	}

	correlID := h.nextCorrelationID()

	respChan := make(chan *Response, 1)
	if !h.addCorrelID(correlID, respChan) {
		return nil, ErrHandlerClosed
	}
	defer h.removeCorrelID(correlID)

	msg := &mqttclient.Message{
		Topic:   topic,
		Payload: req.Payload,
		QoS:     h.qos,
	}
	msg.Props.Set(packet.PropResponseTopic, h.responseTopic)
	msg.Props.Set(packet.PropCorrelationData, []byte(correlID))
	if req.ContentType != "" {
		msg.Props.Set(packet.PropContentType, req.ContentType)
	}
	for k, v := range req.Headers {
		msg.Props.Add(packet.PropUserProperty, mqttclient.StringPair{Key: k, Value: v})
	}

	if _, err := h.client.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("rpc: failed to publish request: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrHandlerClosed
		}
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// CallWithTimeout is Call with a fresh context bounded by timeout.
func (h *Handler) CallWithTimeout(topic string, req *Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Call(ctx, topic, req)
}

// Request is Call with a bare payload.
func (h *Handler) Request(ctx context.Context, topic string, payload []byte) (*Response, error) {
	return h.Call(ctx, topic, &Request{Payload: payload})
}

// Close fails pending calls and unsubscribes from the response topic.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for correlID, ch := range h.correlData {
		close(ch)
		delete(h.correlData, correlID)
	}
	h.mu.Unlock()

	_, err := h.client.Unsubscribe(ctx, []string{h.responseTopic}, nil)
	return err
}

// unique per handler; the time prefix keeps ids distinct across restarts
func (h *Handler) nextCorrelationID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(h.seq.Add(1), 36)
}

func (h *Handler) addCorrelID(correlID string, ch chan *Response) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.correlData[correlID] = ch
	return true
}

func (h *Handler) removeCorrelID(correlID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.correlData, correlID)
}

func (h *Handler) handleResponse(msg *mqttclient.Message) {
	correl := msg.CorrelationData()
	if len(correl) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.correlData[string(correl)]
	if ch == nil {
		return
	}

	// Non-blocking: a second response for the same call is dropped.
	select {
	case ch <- responseFromMessage(msg):
	default:
	}
}

func responseFromMessage(msg *mqttclient.Message) *Response {
	resp := &Response{
		Payload:         msg.Payload,
		ContentType:     msg.ContentType(),
		CorrelationData: msg.CorrelationData(),
	}

	if pairs := msg.UserProperties(); len(pairs) > 0 {
		resp.Headers = make(Headers, len(pairs))
		for _, prop := range pairs {
			resp.Headers[prop.Key] = prop.Value
		}
	}
	return resp
}

// Reply publishes resp to the Response Topic of req, echoing its
// Correlation Data.
func Reply(ctx context.Context, p Publisher, req *mqttclient.Message, resp *Response) error {
	topic := req.ResponseTopic()
	if topic == "" {
		return ErrNoResponseTopic
	}
	if resp == nil {
		resp = &Response{}
	}

	msg := &mqttclient.Message{
		Topic:   topic,
		Payload: resp.Payload,
		QoS:     req.QoS,
	}
	if correl := req.CorrelationData(); correl != nil {
		msg.Props.Set(packet.PropCorrelationData, correl)
	}
	if resp.ContentType != "" {
		msg.Props.Set(packet.PropContentType, resp.ContentType)
	}
	for k, v := range resp.Headers {
		msg.Props.Add(packet.PropUserProperty, mqttclient.StringPair{Key: k, Value: v})
	}

	if _, err := p.Publish(ctx, msg); err != nil {
		return fmt.Errorf("rpc: failed to publish response: %w", err)
	}
	return nil
}
