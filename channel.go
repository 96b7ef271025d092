package gobayeux

import "strings"

// Channel represents a Bayeux Channel which is defined as "a string that
// looks like a URL path such as `/foo/bar`, `/meta/connect`, or
// `/service/chat`."
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels
type Channel string

const (
	// MetaHandshake is the Channel for the first message a new client sends.
	MetaHandshake Channel = "/meta/handshake"
	// MetaConnect is the Channel used for connect messages after a successful
	// handshake.
	MetaConnect Channel = "/meta/connect"
	// MetaDisconnect is the Channel used for disconnect messages.
	MetaDisconnect Channel = "/meta/disconnect"
	// MetaSubscribe is the Channel used by a client to subscribe to channels.
	MetaSubscribe Channel = "/meta/subscribe"
	// MetaUnsubscribe is the Channel used by a client to unsubscribe to
	// channels.
	MetaUnsubscribe Channel = "/meta/unsubscribe"
	emptyChannel    Channel = ""
)

// ChannelType is used to define the three types of channels:
// - meta channels, channels starting with `/meta/`
// - service channels, channels starting with `/service/`
// - broadcast channels, all other channels
type ChannelType string

const (
	// MetaChannel represents the `/meta/` channel type
	MetaChannel ChannelType = "meta"
	// ServiceChannel represents the `/service/` channel type
	ServiceChannel ChannelType = "service"
	// BroadcastChannel represents all other channels
	BroadcastChannel ChannelType = "broadcast"
)

const (
	metaPrefix    string = "/meta/"
	servicePrefix string = "/service/"

	wildSegment     = "*"
	deepWildSegment = "**"
)

// Type provides the type of Channel this struct represents
func (c Channel) Type() ChannelType {
	s := string(c)
	switch {
	case strings.HasPrefix(s, metaPrefix):
		return MetaChannel
	case strings.HasPrefix(s, servicePrefix):
		return ServiceChannel
	default:
		return BroadcastChannel
	}
}

// HasWildcard indicates whether the Channel ends with * or **
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) HasWildcard() bool {
	id, err := ParseChannelID(string(c))
	if err != nil {
		return false
	}
	return id.IsWild()
}

// IsValid reports whether the Channel parses as a ChannelID
func (c Channel) IsValid() bool {
	_, err := ParseChannelID(string(c))
	return err == nil
}

// Match checks if a given Channel matches this Channel.
// Note wildcards are only valid after the last /.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) Match(other Channel) bool {
	self, err := ParseChannelID(string(c))
	if err != nil {
		return false
	}
	id, err := ParseChannelID(string(other))
	if err != nil {
		return false
	}
	return self.Matches(id)
}

// WildKind classifies the trailing segment of a ChannelID
type WildKind int

const (
	// NotWild is a concrete channel such as /foo/bar
	NotWild WildKind = iota
	// Wild matches exactly one more segment, /foo/*
	Wild
	// DeepWild matches one or more segments, /foo/**
	DeepWild
)

// ChannelID is a parsed, immutable Channel broken into path segments.
type ChannelID struct {
	name     string
	segments []string
	wild     WildKind
	parent   string
	wilds    []string
}

// ParseChannelID validates name and splits it into segments. A single
// trailing "/" is tolerated; empty segments are not.
func ParseChannelID(name string) (*ChannelID, error) {
	if name == "" || name[0] != '/' || name == "/" {
		return nil, InvalidChannelError{Channel(name)}
	}

	trimmed := strings.TrimSuffix(name, "/")
	segments := strings.Split(trimmed[1:], "/")
	last := len(segments) - 1
	for i, segment := range segments {
		if segment == "" {
			return nil, InvalidChannelError{Channel(name)}
		}
		if i != last && (segment == wildSegment || segment == deepWildSegment) {
			return nil, InvalidChannelError{Channel(name)}
		}
	}

	id := &ChannelID{name: name, segments: segments}
	switch segments[last] {
	case wildSegment:
		id.wild = Wild
	case deepWildSegment:
		id.wild = DeepWild
	}

	// wilds[0] is the single-level pattern of the parent, followed by one
	// deep pattern per depth from the parent up to the root.
	wilds := make([]string, len(segments)+1)
	var b strings.Builder
	b.WriteByte('/')
	for i := range segments {
		if i > 0 {
			b.WriteString(segments[i-1])
			b.WriteByte('/')
		}
		wilds[len(segments)-i] = b.String() + deepWildSegment
	}
	wilds[0] = b.String() + wildSegment

	if len(segments) > 1 {
		prefix := b.String()
		id.parent = prefix[:len(prefix)-1]
	}
	if id.wild == NotWild {
		id.wilds = wilds
	}
	return id, nil
}

// MustParseChannelID is like ParseChannelID but panics on invalid input. It
// is meant for package level constants.
func MustParseChannelID(name string) *ChannelID {
	id, err := ParseChannelID(name)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the path the ChannelID was parsed from
func (id *ChannelID) String() string {
	return id.name
}

// Channel returns the ChannelID as a Channel
func (id *ChannelID) Channel() Channel {
	return Channel(id.name)
}

// Depth is the number of segments
func (id *ChannelID) Depth() int {
	return len(id.segments)
}

// Segment returns the i-th segment or "" when out of range
func (id *ChannelID) Segment(i int) string {
	if i < 0 || i >= len(id.segments) {
		return ""
	}
	return id.segments[i]
}

// Wild reports the wildcard classification of the last segment
func (id *ChannelID) Wild() WildKind {
	return id.wild
}

// IsWild reports whether the last segment is * or **
func (id *ChannelID) IsWild() bool {
	return id.wild != NotWild
}

// IsDeepWild reports whether the last segment is **
func (id *ChannelID) IsDeepWild() bool {
	return id.wild == DeepWild
}

// IsMeta reports whether the first segment is "meta"
func (id *ChannelID) IsMeta() bool {
	return id.segments[0] == "meta"
}

// IsService reports whether the first segment is "service"
func (id *ChannelID) IsService() bool {
	return id.segments[0] == "service"
}

// Parent returns the path without its last segment. ok is false at depth 1.
func (id *ChannelID) Parent() (parent string, ok bool) {
	return id.parent, id.parent != ""
}

// Wilds lists the wildcard patterns that could match this ChannelID, or
// nothing when the ChannelID is itself wild. The returned slice must not be
// modified.
func (id *ChannelID) Wilds() []string {
	return id.wilds
}

// Equal compares the full paths
func (id *ChannelID) Equal(other *ChannelID) bool {
	if other == nil {
		return false
	}
	return id.name == other.name
}

// Matches reports whether other is matched by id. A wild other is only
// matched by an equal id.
func (id *ChannelID) Matches(other *ChannelID) bool {
	if other.IsWild() {
		return id.Equal(other)
	}

	switch id.wild {
	case Wild:
		if len(other.segments) != len(id.segments) {
			return false
		}
	case DeepWild:
		if len(other.segments) < len(id.segments) {
			return false
		}
	default:
		return id.Equal(other)
	}
	return id.samePrefix(other, len(id.segments)-1)
}

// IsAncestorOf reports whether id is a strict, non-wild prefix of other
func (id *ChannelID) IsAncestorOf(other *ChannelID) bool {
	if id.IsWild() || len(id.segments) >= len(other.segments) {
		return false
	}
	return id.samePrefix(other, len(id.segments))
}

// IsParentOf reports whether id is the direct parent of other
func (id *ChannelID) IsParentOf(other *ChannelID) bool {
	if id.IsWild() || len(id.segments) != len(other.segments)-1 {
		return false
	}
	return id.samePrefix(other, len(id.segments))
}

func (id *ChannelID) samePrefix(other *ChannelID, n int) bool {
	for i := 0; i < n; i++ {
		if id.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}
