package mqttclient

import "fmt"

// ProducerInterceptor can inspect or modify messages before they are
// published. Interceptors run in the order they are configured, each
// receiving the result of the previous one.
type ProducerInterceptor interface {
	// OnSend is called by Publish before the message is validated.
	// Returning nil drops the message; the Publish call then succeeds
	// without sending anything.
	//
	// WARNING: The message is NOT a copy. Use msg.Clone() to keep the original.
	OnSend(msg *Message) *Message
}

// ConsumerInterceptor can inspect or modify inbound messages before Receive
// returns them. Returning nil drops the message.
type ConsumerInterceptor interface {
	OnConsume(msg *Message) *Message
}

// ProducerInterceptorFunc adapts a function to ProducerInterceptor.
type ProducerInterceptorFunc func(msg *Message) *Message

// OnSend calls f(msg).
func (f ProducerInterceptorFunc) OnSend(msg *Message) *Message { return f(msg) }

// ConsumerInterceptorFunc adapts a function to ConsumerInterceptor.
type ConsumerInterceptorFunc func(msg *Message) *Message

// OnConsume calls f(msg).
func (f ConsumerInterceptorFunc) OnConsume(msg *Message) *Message { return f(msg) }

// applyProducerInterceptors runs the chain. A panicking interceptor is
// logged and skipped, leaving the message as it was.
func applyProducerInterceptors(logger Logger, interceptors []ProducerInterceptor, msg *Message) *Message {
	current := msg
	for _, interceptor := range interceptors {
		if current == nil {
			return nil
		}
		current = safely(logger, "producer", current, interceptor.OnSend)
	}
	return current
}

func applyConsumerInterceptors(logger Logger, interceptors []ConsumerInterceptor, msg *Message) *Message {
	current := msg
	for _, interceptor := range interceptors {
		if current == nil {
			return nil
		}
		current = safely(logger, "consumer", current, interceptor.OnConsume)
	}
	return current
}

func safely(logger Logger, kind string, msg *Message, fn func(*Message) *Message) (result *Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("interceptor panic", LogFields{
				"interceptor": kind,
				LogFieldTopic: msg.Topic,
				LogFieldError: fmt.Sprint(r),
			})
			result = msg
		}
	}()
	return fn(msg)
}
