// Package types provides the core data types for the Codewave backend.
package types

import "fmt"

// SessionState represents the lifecycle state of an execution session.
type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionProvisioning  SessionState = "provisioning"
	SessionReady         SessionState = "ready"
	SessionExecuting     SessionState = "executing"
	SessionClosing       SessionState = "closing"
	SessionClosed        SessionState = "closed"
)

// SessionKey identifies one execution environment. At most one session
// exists per key at any time.
type SessionKey struct {
	ProjectID  string `json:"projectID"`
	TerminalID string `json:"terminalID"`
}

// String returns the canonical "projectID/terminalID" form of the key.
func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.ProjectID, k.TerminalID)
}

// SessionInfo is the API-visible view of a session.
type SessionInfo struct {
	ProjectID  string       `json:"projectID"`
	TerminalID string       `json:"terminalID"`
	State      SessionState `json:"state"`
	Workspace  string       `json:"workspace,omitempty"`
	Time       SessionTime  `json:"time"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created  int64 `json:"created"`
	Activity int64 `json:"activity"`
}
