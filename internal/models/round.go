package models

import "time"

// Round records one completed conversation round: a partner message, the
// backend's reply, and whether the reply was actually posted to the game.
type Round struct {
	ID            string
	Partner       string
	PlayerMessage string
	Reply         string
	Posted        bool
	CreatedAt     time.Time
}

// Problem records a fault that the routine escalated to the supervisor.
type Problem struct {
	ID         string
	Kind       string
	Message    string
	OccurredAt time.Time
}
