package models

// ChannelFilter restricts chat operations to one of the game's channels.
type ChannelFilter string

const (
	ChannelGlobal  ChannelFilter = "global"
	ChannelWorld   ChannelFilter = "world"
	ChannelWhisper ChannelFilter = "whisper"
	ChannelDirect  ChannelFilter = "direct"
)

// ParseChannelFilter maps a config value to a ChannelFilter.
// Unknown values fall back to the global channel.
func ParseChannelFilter(s string) ChannelFilter {
	switch ChannelFilter(s) {
	case ChannelWorld, ChannelWhisper, ChannelDirect:
		return ChannelFilter(s)
	default:
		return ChannelGlobal
	}
}

// Message is a single chat line as scraped from the game.
// Sender is empty for system lines that carry no author.
// Raw is the unparsed line and serves as the equality token for
// detecting already-seen messages.
type Message struct {
	Sender  string
	Content string
	Channel ChannelFilter
	Raw     string
}

// HasSender reports whether the message carries an author.
func (m Message) HasSender() bool {
	return m.Sender != ""
}

// Equal reports whether two messages are the same chat line.
func (m Message) Equal(other Message) bool {
	return m.Raw == other.Raw && m.Sender == other.Sender && m.Content == other.Content
}
