package types

// Command is one queued unit of terminal work. Produced by the realtime
// gateway, consumed by exactly one worker per successful execution.
// Delivery is at-least-once; handlers must tolerate redelivery.
type Command struct {
	ProjectID  string `json:"projectID"`
	TerminalID string `json:"terminalID"`
	UserID     string `json:"userID,omitempty"`
	Command    string `json:"command"`
	EnqueuedAt int64  `json:"enqueuedAt"` // Unix milliseconds
}

// SessionKey returns the key of the session this command targets.
func (c Command) SessionKey() SessionKey {
	return SessionKey{ProjectID: c.ProjectID, TerminalID: c.TerminalID}
}

// TerminalEventType discriminates payloads on the terminal output channel.
type TerminalEventType string

const (
	TerminalOutput TerminalEventType = "output"
	TerminalReady  TerminalEventType = "ready"
	TerminalError  TerminalEventType = "error"
)

// TerminalEvent is one chunk on the terminal-output channel.
type TerminalEvent struct {
	Type       TerminalEventType `json:"type"`
	ProjectID  string            `json:"projectID"`
	TerminalID string            `json:"terminalID"`
	Data       string            `json:"data,omitempty"`
}
