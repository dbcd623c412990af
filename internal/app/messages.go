package app

import "github.com/jwulff/smartsearch/internal/chat"

// SessionsLoadedMsg carries the saved sessions for the history panel.
type SessionsLoadedMsg struct {
	Sessions []chat.Session
}

// ErrorMsg reports a problem to show in the error bar.
type ErrorMsg struct {
	Message   string
	Transient bool
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}
