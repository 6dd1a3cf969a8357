package registry

import (
	"fmt"
	"net/url"
	"strings"
)

const topicPrefix = "chat"

// GroupKey identifies a broadcast group: one channel of one server.
type GroupKey struct {
	ServerID  string
	ChannelID string
}

func (k GroupKey) String() string {
	return "s" + k.ServerID + "/c" + k.ChannelID
}

// Topic returns the broker topic of the group. Both ids are escaped so the
// result never contains '.', '*' or '#', which keeps distinct keys on
// distinct topics and makes the topic safe as an AMQP routing key.
func (k GroupKey) Topic() string {
	return topicPrefix + ".s" + escapeToken(k.ServerID) + ".c" + escapeToken(k.ChannelID)
}

// ParseTopic is the inverse of GroupKey.Topic.
func ParseTopic(topic string) (GroupKey, error) {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 || parts[0] != topicPrefix ||
		!strings.HasPrefix(parts[1], "s") || !strings.HasPrefix(parts[2], "c") {
		return GroupKey{}, fmt.Errorf("malformed group topic %q", topic)
	}
	server, err := url.QueryUnescape(parts[1][1:])
	if err != nil {
		return GroupKey{}, fmt.Errorf("malformed group topic %q: %w", topic, err)
	}
	channel, err := url.QueryUnescape(parts[2][1:])
	if err != nil {
		return GroupKey{}, fmt.Errorf("malformed group topic %q: %w", topic, err)
	}
	return GroupKey{ServerID: server, ChannelID: channel}, nil
}

func escapeToken(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), ".", "%2E")
}
