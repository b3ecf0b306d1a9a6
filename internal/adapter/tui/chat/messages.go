// Package chat is the full-screen terminal client: a chat transcript fed by
// a chat Session and a lookup pane fed by the cascading Resolver.
package chat

import (
	"spanlight/internal/domain"
	chatuc "spanlight/internal/usecase/chat"
)

// SessionMsg carries a chat session snapshot into the update loop.
type SessionMsg struct {
	State chatuc.SessionState
}

// PopoverMsg carries a lookup popover snapshot into the update loop.
type PopoverMsg struct {
	State domain.PopoverState
}

// TurnDoneMsg reports the end of a chat turn. Turn identifies the submit
// that started it so failures of superseded turns can be dropped.
type TurnDoneMsg struct {
	Turn uint64
	Err  error
}

// chatSavedMsg reports the outcome of persisting the transcript.
type chatSavedMsg struct {
	Chat domain.Chat
	Err  error
}

// QuitMsg asks the program to exit.
type QuitMsg struct{}
