package mqttclient

import (
	"errors"
)

var (
	ErrTopicAliasInvalid  = errors.New("topic alias invalid")
	ErrTopicAliasExceeded = errors.New("topic alias maximum exceeded")
	ErrTopicAliasNotFound = errors.New("topic alias not found")
)

// inboundAliases resolves Topic Alias properties of PUBLISH packets sent by
// the server. Aliases live for one network connection only.
// MQTT v5.0 spec: Section 3.3.2.3.4
type inboundAliases struct {
	maximum uint16
	aliases map[uint16]string
}

func newInboundAliases(maximum uint16) *inboundAliases {
	return &inboundAliases{
		maximum: maximum,
		aliases: make(map[uint16]string),
	}
}

// resolve returns the topic for an inbound PUBLISH. A non-empty topic with
// an alias (re)binds the alias; an empty topic must use a known alias.
func (a *inboundAliases) resolve(topic string, alias uint16) (string, error) {
	if alias == 0 {
		return "", ErrTopicAliasInvalid
	}
	if alias > a.maximum {
		return "", ErrTopicAliasExceeded
	}
	if topic != "" {
		a.aliases[alias] = topic
		return topic, nil
	}
	topic, ok := a.aliases[alias]
	if !ok {
		return "", ErrTopicAliasNotFound
	}
	return topic, nil
}

func (a *inboundAliases) clear() {
	clear(a.aliases)
}
