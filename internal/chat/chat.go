// Package chat gives access to the game's public chat: reading the visible
// message history and submitting new lines, restricted to a channel.
package chat

import (
	"context"
	"strings"

	"github.com/parlaybot/parlay/internal/models"
)

// Client is the port the conversation routine reads and writes chat through.
// Errors from a live game session are wrapped as transient automation faults.
type Client interface {
	// Messages returns a fresh snapshot of the channel's visible messages,
	// ordered oldest to newest.
	Messages(ctx context.Context, filter models.ChannelFilter) ([]models.Message, error)
	// Submit posts text into the channel.
	Submit(ctx context.Context, text string, filter models.ChannelFilter) error
	// Close releases the game session. Called exactly once by the service.
	Close(ctx context.Context) error
}

// ParseLine splits a raw chat line of the form "Sender: content" into a
// Message. Lines without a sender prefix (system notices, emotes) yield a
// message with an empty sender and the whole line as content.
func ParseLine(raw string, channel models.ChannelFilter) models.Message {
	msg := models.Message{Channel: channel, Raw: raw}

	sender, content, ok := strings.Cut(raw, ":")
	if !ok {
		msg.Content = strings.TrimSpace(raw)
		return msg
	}

	sender = strings.TrimSpace(sender)
	// A sender is a single player name; anything with spaces is part of a
	// system line, not an author prefix.
	if sender == "" || strings.ContainsAny(sender, " \t") {
		msg.Content = strings.TrimSpace(raw)
		return msg
	}

	msg.Sender = sender
	msg.Content = strings.TrimSpace(content)
	return msg
}
