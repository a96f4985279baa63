package mqtt

import "strings"

// Topic level wildcards.
const (
	SingleLevelWildcard = "+"
	MultiLevelWildcard  = "#"
)

// JoinTopic joins levels with "/", skipping empty levels so optional
// segments (an unset root, an omitted class) leave no gaps.
//
//	JoinTopic("", "homey", "light", "kitchen") // "homey/light/kitchen"
func JoinTopic(levels ...string) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		l = strings.Trim(l, "/")
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "/")
}

// MatchTopic reports whether topic matches the subscription filter,
// honouring the + and # wildcards.
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == MultiLevelWildcard {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != SingleLevelWildcard && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

// TrimTopicPrefix strips base and the following separator from topic,
// returning the remaining levels and whether topic lived under base.
func TrimTopicPrefix(topic, base string) ([]string, bool) {
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(topic, base+"/") {
		return nil, false
	}
	rest := topic[len(base)+1:]
	if rest == "" {
		return nil, false
	}
	return strings.Split(rest, "/"), true
}
