// Package router dispatches messages returned by Client.Receive to handlers
// selected by topic filter and message properties.
package router

import (
	"context"
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttclient"
)

// Handler processes an MQTT message.
type Handler func(msg *mqttclient.Message)

// Receiver is the part of *mqttclient.Client the router consumes.
type Receiver interface {
	Receive(ctx context.Context) (*mqttclient.Message, error)
}

type predicate func(msg *mqttclient.Message) bool

// Condition is the set of checks a message must pass to reach a handler.
type Condition struct {
	topicFilter string
	checks      []predicate
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic matches the topic against an MQTT topic filter with + and #
// wildcards.
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.topicFilter = filter
		c.checks = append(c.checks, func(msg *mqttclient.Message) bool {
			return mqttclient.TopicMatch(filter, msg.Topic)
		})
	}
}

// WithSubscriptionID matches messages delivered for the subscription that
// was made with the given Subscription Identifier.
func WithSubscriptionID(id uint32) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(msg *mqttclient.Message) bool {
			return slices.Contains(msg.SubscriptionIdentifiers(), id)
		})
	}
}

func WithQoS(qos byte) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(msg *mqttclient.Message) bool { return msg.QoS == qos })
	}
}

func WithRetained(retained bool) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(msg *mqttclient.Message) bool { return msg.Retain == retained })
	}
}

// WithContentType matches the Content Type property against pattern.
func WithContentType(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(msg *mqttclient.Message) bool {
			return pattern.MatchString(msg.ContentType())
		})
	}
}

// WithResponseTopic matches the Response Topic property against pattern.
func WithResponseTopic(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(msg *mqttclient.Message) bool {
			return pattern.MatchString(msg.ResponseTopic())
		})
	}
}

// WithUserProperty requires a user property whose key and value both match.
// Repeat it to require several properties.
func WithUserProperty(keyPattern, valuePattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(msg *mqttclient.Message) bool {
			return slices.ContainsFunc(msg.UserProperties(), func(p mqttclient.StringPair) bool {
				return keyPattern.MatchString(p.Key) && valuePattern.MatchString(p.Value)
			})
		})
	}
}

func (c *Condition) matches(msg *mqttclient.Message) bool {
	for _, check := range c.checks {
		if !check(msg) {
			return false
		}
	}
	return true
}

type registration struct {
	handler   Handler
	condition Condition
}

// Router dispatches messages to every handler whose condition matches.
type Router struct {
	mu       sync.RWMutex
	handlers []registration
	fallback Handler
}

func New() *Router {
	return &Router{}
}

// Handle registers a handler. Without options it receives every message.
//
//	r.Handle(onTemp, router.WithTopic("sensors/+/temp"), router.WithQoS(1))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, registration{handler: handler, condition: cond})
	r.mu.Unlock()
}

// HandleUnmatched sets the handler for messages no condition matched.
func (r *Router) HandleUnmatched(handler Handler) {
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

// Route calls every matching handler in registration order, or the
// unmatched handler when none matches. Handlers run without the lock held.
func (r *Router) Route(msg *mqttclient.Message) {
	if msg == nil {
		return
	}

	r.mu.RLock()
	var matched []Handler
	for _, reg := range r.handlers {
		if reg.condition.matches(msg) {
			matched = append(matched, reg.handler)
		}
	}
	fallback := r.fallback
	r.mu.RUnlock()

	if len(matched) == 0 {
		if fallback != nil {
			fallback(msg)
		}
		return
	}
	for _, handler := range matched {
		handler(msg)
	}
}

// Serve receives messages from rc and routes them until Receive fails.
// It returns the error from Receive: ctx.Err() when ctx is done, or the
// client's termination error once it has stopped and drained.
func (r *Router) Serve(ctx context.Context, rc Receiver) error {
	for {
		msg, err := rc.Receive(ctx)
		if err != nil {
			return err
		}
		r.Route(msg)
	}
}

// Filters returns the distinct topic filters of all handlers, sorted.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filters []string
	for _, reg := range r.handlers {
		if f := reg.condition.topicFilter; f != "" && !slices.Contains(filters, f) {
			filters = append(filters, f)
		}
	}
	slices.Sort(filters)
	return filters
}

// Subscriptions returns one subscription per filter, ready for
// Client.Subscribe.
func (r *Router) Subscriptions(qos byte) []mqttclient.Subscription {
	filters := r.Filters()
	subs := make([]mqttclient.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = mqttclient.Subscription{TopicFilter: f, QoS: qos}
	}
	return subs
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear removes every handler, the unmatched one included.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = nil
	r.fallback = nil
	r.mu.Unlock()
}
