// Package brain exposes the conversational backend that produces the bot's
// replies. One session is held per selected chat partner and carries the
// conversation history for that partner.
package brain

import "context"

// Client creates backend sessions.
type Client interface {
	// CreateSession opens a fresh conversation with no history.
	CreateSession(ctx context.Context) (Session, error)
}

// Session is a stateful conversation with the backend.
type Session interface {
	// Ask sends the partner's message and returns the backend's reply.
	Ask(ctx context.Context, text string) (string, error)
	// Close releases the session. Closing twice is a no-op.
	Close() error
}
