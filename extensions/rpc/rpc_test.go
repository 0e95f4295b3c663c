package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/mqttclient"
	"github.com/vitalvas/mqttclient/extensions/router"
	"github.com/vitalvas/mqttclient/packet"
)

// mockClient records calls and hands published messages to onPublish.
type mockClient struct {
	mu           sync.Mutex
	clientID     string
	subscribed   []mqttclient.Subscription
	unsubscribed []string
	published    []*mqttclient.Message
	subscribeErr error
	publishErr   error
	onPublish    func(msg *mqttclient.Message)
}

func (m *mockClient) ClientID() string {
	return m.clientID
}

func (m *mockClient) Subscribe(_ context.Context, subs []mqttclient.Subscription, _ *mqttclient.Properties) (*mqttclient.SubscribeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.subscribed = append(m.subscribed, subs...)
	return &mqttclient.SubscribeResult{ReasonCodes: []mqttclient.ReasonCode{packet.ReasonSuccess}}, nil
}

func (m *mockClient) Unsubscribe(_ context.Context, filters []string, _ *mqttclient.Properties) (*mqttclient.UnsubscribeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsubscribed = append(m.unsubscribed, filters...)
	return &mqttclient.UnsubscribeResult{}, nil
}

func (m *mockClient) Publish(_ context.Context, msg *mqttclient.Message) (*mqttclient.PublishResult, error) {
	m.mu.Lock()
	if m.publishErr != nil {
		m.mu.Unlock()
		return nil, m.publishErr
	}
	m.published = append(m.published, msg)
	onPublish := m.onPublish
	m.mu.Unlock()

	if onPublish != nil {
		onPublish(msg)
	}
	return &mqttclient.PublishResult{}, nil
}

// publisherFunc adapts a function to Publisher.
type publisherFunc func(msg *mqttclient.Message)

func (f publisherFunc) Publish(_ context.Context, msg *mqttclient.Message) (*mqttclient.PublishResult, error) {
	f(msg)
	return &mqttclient.PublishResult{}, nil
}

// echoResponder answers every request on the router with the request
// payload prefixed by "re:" and the request headers.
func echoResponder(r *router.Router) func(msg *mqttclient.Message) {
	deliver := publisherFunc(func(msg *mqttclient.Message) { r.Route(msg) })

	return func(req *mqttclient.Message) {
		if req.ResponseTopic() == "" {
			return
		}
		headers := Headers{}
		for _, pair := range req.UserProperties() {
			headers[pair.Key] = pair.Value
		}
		_ = Reply(context.Background(), deliver, req, &Response{
			Payload:     append([]byte("re:"), req.Payload...),
			ContentType: req.ContentType(),
			Headers:     headers,
		})
	}
}

func TestNewHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("nil client returns error", func(t *testing.T) {
		h, err := NewHandler(ctx, nil, router.New(), nil)
		assert.Nil(t, h)
		assert.Error(t, err)
	})

	t.Run("nil router returns error", func(t *testing.T) {
		h, err := NewHandler(ctx, &mockClient{}, nil, nil)
		assert.Nil(t, h)
		assert.Error(t, err)
	})

	t.Run("default options", func(t *testing.T) {
		mock := &mockClient{clientID: "test-client"}
		r := router.New()

		h, err := NewHandler(ctx, mock, r, nil)
		require.NoError(t, err)

		assert.Equal(t, "rpc/response/test-client", h.ResponseTopic())
		require.Len(t, mock.subscribed, 1)
		assert.Equal(t, "rpc/response/test-client", mock.subscribed[0].TopicFilter)
		assert.Equal(t, []string{"rpc/response/test-client"}, r.Filters())
	})

	t.Run("custom response topic", func(t *testing.T) {
		mock := &mockClient{clientID: "test-client"}

		h, err := NewHandler(ctx, mock, router.New(), &HandlerOptions{
			ResponseTopic: "custom/response/topic",
			QoS:           1,
		})
		require.NoError(t, err)

		assert.Equal(t, "custom/response/topic", h.ResponseTopic())
		assert.Equal(t, byte(1), mock.subscribed[0].QoS)
	})

	t.Run("subscribe error", func(t *testing.T) {
		mock := &mockClient{subscribeErr: mqttclient.ErrClientClosed}

		h, err := NewHandler(ctx, mock, router.New(), nil)
		assert.Nil(t, h)
		assert.ErrorIs(t, err, mqttclient.ErrClientClosed)
		assert.Contains(t, err.Error(), "failed to subscribe to response topic")
	})
}

func TestCall(t *testing.T) {
	t.Run("request response", func(t *testing.T) {
		r := router.New()
		mock := &mockClient{clientID: "requester", onPublish: echoResponder(r)}

		h, err := NewHandler(context.Background(), mock, r, &HandlerOptions{QoS: 1})
		require.NoError(t, err)

		resp, err := h.Request(context.Background(), "service/echo", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, []byte("re:hello"), resp.Payload)
		assert.NotEmpty(t, resp.CorrelationData)

		require.Len(t, mock.published, 1)
		req := mock.published[0]
		assert.Equal(t, "service/echo", req.Topic)
		assert.Equal(t, byte(1), req.QoS)
		assert.Equal(t, "rpc/response/requester", req.ResponseTopic())
		assert.Equal(t, req.CorrelationData(), resp.CorrelationData)
	})

	t.Run("headers and content type", func(t *testing.T) {
		r := router.New()
		mock := &mockClient{clientID: "requester", onPublish: echoResponder(r)}

		h, err := NewHandler(context.Background(), mock, r, nil)
		require.NoError(t, err)

		resp, err := h.Call(context.Background(), "service/echo", &Request{
			Payload:     []byte(`{"a":1}`),
			ContentType: "application/json",
			Headers:     Headers{"trace-id": "abc", "tenant": "acme"},
		})
		require.NoError(t, err)
		assert.Equal(t, "application/json", resp.ContentType)
		assert.Equal(t, Headers{"trace-id": "abc", "tenant": "acme"}, resp.Headers)
	})

	t.Run("nil request", func(t *testing.T) {
		r := router.New()
		mock := &mockClient{clientID: "requester", onPublish: echoResponder(r)}

		h, err := NewHandler(context.Background(), mock, r, nil)
		require.NoError(t, err)

		resp, err := h.Call(context.Background(), "service/echo", nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("re:"), resp.Payload)
		assert.Nil(t, resp.Headers)
	})

	t.Run("sequential calls use distinct correlation data", func(t *testing.T) {
		r := router.New()
		mock := &mockClient{clientID: "requester", onPublish: echoResponder(r)}

		h, err := NewHandler(context.Background(), mock, r, nil)
		require.NoError(t, err)

		seen := map[string]bool{}
		for range 5 {
			resp, err := h.Request(context.Background(), "service/echo", []byte("x"))
			require.NoError(t, err)
			assert.False(t, seen[string(resp.CorrelationData)])
			seen[string(resp.CorrelationData)] = true
		}
		assert.Empty(t, h.correlData)
	})

	t.Run("timeout", func(t *testing.T) {
		h, err := NewHandler(context.Background(), &mockClient{clientID: "c"}, router.New(), nil)
		require.NoError(t, err)

		_, err = h.CallWithTimeout("service/silent", nil, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Empty(t, h.correlData)
	})

	t.Run("context canceled", func(t *testing.T) {
		h, err := NewHandler(context.Background(), &mockClient{clientID: "c"}, router.New(), nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err = h.Request(ctx, "service/silent", nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("publish error", func(t *testing.T) {
		mock := &mockClient{clientID: "c"}
		h, err := NewHandler(context.Background(), mock, router.New(), nil)
		require.NoError(t, err)

		mock.publishErr = mqttclient.ErrCanceled
		_, err = h.Request(context.Background(), "service/x", nil)
		assert.ErrorIs(t, err, mqttclient.ErrCanceled)
		assert.Contains(t, err.Error(), "failed to publish request")
	})
}

func TestHandlerClose(t *testing.T) {
	t.Run("fails pending calls and unsubscribes", func(t *testing.T) {
		mock := &mockClient{clientID: "c"}
		h, err := NewHandler(context.Background(), mock, router.New(), nil)
		require.NoError(t, err)

		result := make(chan error, 1)
		go func() {
			_, err := h.Request(context.Background(), "service/silent", nil)
			result <- err
		}()

		require.Eventually(t, func() bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			return len(h.correlData) == 1
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, h.Close(context.Background()))

		select {
		case err := <-result:
			assert.ErrorIs(t, err, ErrHandlerClosed)
		case <-time.After(time.Second):
			t.Fatal("pending call was not released")
		}
		assert.Equal(t, []string{"rpc/response/c"}, mock.unsubscribed)
	})

	t.Run("call after close", func(t *testing.T) {
		h, err := NewHandler(context.Background(), &mockClient{clientID: "c"}, router.New(), nil)
		require.NoError(t, err)
		require.NoError(t, h.Close(context.Background()))

		_, err = h.Request(context.Background(), "service/x", nil)
		assert.ErrorIs(t, err, ErrHandlerClosed)
	})
}

func TestHandleResponseEdgeCases(t *testing.T) {
	h := &Handler{
		correlData: make(map[string]chan *Response),
	}

	t.Run("empty correlation data", func(_ *testing.T) {
		h.handleResponse(&mqttclient.Message{Payload: []byte("test")})
	})

	t.Run("unknown correlation ID", func(_ *testing.T) {
		msg := &mqttclient.Message{Payload: []byte("test")}
		msg.Props.Set(packet.PropCorrelationData, []byte("unknown-id"))
		h.handleResponse(msg)
	})

	t.Run("duplicate response is dropped", func(t *testing.T) {
		ch := make(chan *Response, 1)
		ch <- &Response{Payload: []byte("existing")}
		h.correlData["full-channel"] = ch

		msg := &mqttclient.Message{Payload: []byte("new")}
		msg.Props.Set(packet.PropCorrelationData, []byte("full-channel"))
		h.handleResponse(msg)

		resp := <-ch
		assert.Equal(t, []byte("existing"), resp.Payload)
	})
}

func TestReply(t *testing.T) {
	t.Run("echoes correlation data", func(t *testing.T) {
		var sent *mqttclient.Message
		p := publisherFunc(func(msg *mqttclient.Message) { sent = msg })

		req := &mqttclient.Message{Topic: "service/x", QoS: 1}
		req.Props.Set(packet.PropResponseTopic, "reply/here")
		req.Props.Set(packet.PropCorrelationData, []byte("id-1"))

		err := Reply(context.Background(), p, req, &Response{
			Payload: []byte("ok"),
			Headers: Headers{"status": "200"},
		})
		require.NoError(t, err)

		require.NotNil(t, sent)
		assert.Equal(t, "reply/here", sent.Topic)
		assert.Equal(t, byte(1), sent.QoS)
		assert.Equal(t, []byte("ok"), sent.Payload)
		assert.Equal(t, []byte("id-1"), sent.CorrelationData())
		assert.Equal(t, []mqttclient.StringPair{{Key: "status", Value: "200"}}, sent.UserProperties())
	})

	t.Run("no response topic", func(t *testing.T) {
		err := Reply(context.Background(), publisherFunc(func(*mqttclient.Message) {}), &mqttclient.Message{Topic: "a"}, nil)
		assert.ErrorIs(t, err, ErrNoResponseTopic)
	})

	t.Run("publish error", func(t *testing.T) {
		mock := &mockClient{publishErr: errors.New("boom")}
		req := &mqttclient.Message{Topic: "a"}
		req.Props.Set(packet.PropResponseTopic, "reply")

		err := Reply(context.Background(), mock, req, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish response")
	})
}

func FuzzHandleResponse(f *testing.F) {
	f.Add([]byte("test-payload"), []byte("correl-123"))
	f.Add([]byte(""), []byte(""))
	f.Add([]byte{0x00, 0x01, 0x02}, []byte{0xff, 0xfe, 0xfd})

	f.Fuzz(func(t *testing.T, payload, correlData []byte) {
		h := &Handler{
			correlData: make(map[string]chan *Response),
		}

		msg := &mqttclient.Message{Payload: payload}
		msg.Props.Set(packet.PropCorrelationData, correlData)
		h.handleResponse(msg)

		if len(correlData) > 0 {
			ch := make(chan *Response, 1)
			h.correlData[string(correlData)] = ch

			h.handleResponse(msg)

			select {
			case resp := <-ch:
				if len(resp.Payload) != len(payload) {
					t.Error("payload mismatch")
				}
			default:
				t.Error("expected a response")
			}
		}
	})
}

func BenchmarkCall(b *testing.B) {
	r := router.New()
	mock := &mockClient{clientID: "bench", onPublish: echoResponder(r)}

	h, err := NewHandler(context.Background(), mock, r, nil)
	require.NoError(b, err)

	ctx := context.Background()
	payload := []byte("benchmark")

	b.ReportAllocs()
	for b.Loop() {
		if _, err := h.Request(ctx, "service/echo", payload); err != nil {
			b.Fatal(err)
		}
		mock.mu.Lock()
		mock.published = mock.published[:0]
		mock.mu.Unlock()
	}
}
