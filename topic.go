package mqttclient

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
	sharePrefix         = "$share/"
)

// ValidateTopicName validates a topic name used in PUBLISH.
// Topic names cannot contain wildcards and must be valid UTF-8.
// MQTT v5.0 spec: Section 4.7.1
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if !utf8.ValidString(topic) || strings.ContainsAny(topic, "\x00+#") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateTopicFilter validates a topic filter used in SUBSCRIBE and
// UNSUBSCRIBE, including shared subscription filters.
// MQTT v5.0 spec: Section 4.7.1, 4.8.2
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	if !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return ErrInvalidTopicFilter
	}

	if strings.HasPrefix(filter, sharePrefix) {
		share, err := ParseSharedSubscription(filter)
		if err != nil {
			return err
		}
		filter = share.TopicFilter
	}

	levels := strings.Split(filter, string(topicSeparator))
	for i, level := range levels {
		if strings.ContainsRune(level, singleLevelWildcard) && level != "+" {
			return ErrInvalidTopicFilter
		}
		if strings.ContainsRune(level, multiLevelWildcard) {
			if level != "#" || i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}
	return nil
}

// TopicMatch reports whether a topic name matches a topic filter. Shared
// subscription filters match on their topic filter part.
// MQTT v5.0 spec: Section 4.7
func TopicMatch(filter, topic string) bool {
	if share, err := ParseSharedSubscription(filter); err == nil && share != nil {
		filter = share.TopicFilter
	}
	if filter == "" || topic == "" {
		return false
	}

	// topics starting with $ never match a leading wildcard
	if topic[0] == '$' && (filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard) {
		return false
	}

	return matchLevels(filter, topic)
}

// matchLevels walks filter and topic level by level without allocating.
func matchLevels(filter, topic string) bool {
	fi, ti := 0, 0
	flen, tlen := len(filter), len(topic)

	for {
		fend := fi
		for fend < flen && filter[fend] != topicSeparator {
			fend++
		}
		flevel := filter[fi:fend]

		if flevel == "#" {
			return true
		}
		// topic has fewer levels than the filter
		if ti > tlen {
			return false
		}

		tend := ti
		for tend < tlen && topic[tend] != topicSeparator {
			tend++
		}
		if flevel != "+" && flevel != topic[ti:tend] {
			return false
		}

		fi, ti = fend+1, tend+1
		if fi > flen {
			return ti > tlen
		}
	}
}

// SharedSubscription is a parsed "$share/{ShareName}/{TopicFilter}" filter.
// MQTT v5.0 spec: Section 4.8.2
type SharedSubscription struct {
	ShareName   string
	TopicFilter string
}

// ParseSharedSubscription parses a shared subscription filter. It returns
// nil without error when the filter is not shared.
func ParseSharedSubscription(filter string) (*SharedSubscription, error) {
	if !strings.HasPrefix(filter, sharePrefix) {
		return nil, nil
	}

	rest := filter[len(sharePrefix):]
	idx := strings.IndexByte(rest, topicSeparator)
	if idx <= 0 || idx == len(rest)-1 {
		return nil, ErrInvalidTopicFilter
	}
	shareName := rest[:idx]
	if strings.ContainsAny(shareName, "+#") {
		return nil, ErrInvalidTopicFilter
	}

	return &SharedSubscription{
		ShareName:   shareName,
		TopicFilter: rest[idx+1:],
	}, nil
}

func isSharedSubscription(filter string) bool {
	return strings.HasPrefix(filter, sharePrefix)
}

func containsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "#+")
}
