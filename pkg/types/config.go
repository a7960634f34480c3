package types

import "time"

// Config represents the Codewave backend configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// DataDir is the root directory for the local object store and queue.
	// Defaults to the platform data path.
	DataDir string `json:"dataDir,omitempty"`

	LogLevel  string `json:"logLevel,omitempty"`
	LogPretty bool   `json:"logPretty,omitempty"`

	Server       *ServerConfig       `json:"server,omitempty"`
	Sync         *SyncConfig         `json:"sync,omitempty"`
	Queue        *QueueConfig        `json:"queue,omitempty"`
	Worker       *WorkerConfig       `json:"worker,omitempty"`
	Orchestrator *OrchestratorConfig `json:"orchestrator,omitempty"`
	Workspace    *WorkspaceConfig    `json:"workspace,omitempty"`
}

// ServerConfig configures the realtime gateway HTTP server.
type ServerConfig struct {
	Port       int    `json:"port,omitempty"`     // default 8080
	Hostname   string `json:"hostname,omitempty"` // default 127.0.0.1
	EnableCORS *bool  `json:"enableCORS,omitempty"`
}

// SyncConfig configures the document synchronization service.
type SyncConfig struct {
	// PersistDebounceMs is the quiet period after the last update before a
	// document snapshot is persisted. Default 2000.
	PersistDebounceMs int `json:"persistDebounceMs,omitempty"`
}

// QueueConfig configures the distributed command queue.
type QueueConfig struct {
	// VisibilityTimeoutSec is how long a received-but-unacknowledged message
	// stays hidden before becoming redeliverable. Default 300.
	VisibilityTimeoutSec int `json:"visibilityTimeoutSec,omitempty"`
	// LongPollSec is the maximum wait of one receive call. Default 20.
	LongPollSec int `json:"longPollSec,omitempty"`
}

// WorkerConfig configures the command worker loop and session backends.
type WorkerConfig struct {
	// Backend selects the execution backend: "local" (subprocess) or
	// "shell" (in-process POSIX interpreter). Default "local".
	Backend string `json:"backend,omitempty"`
	// CommandTimeoutSec bounds a single command; 0 disables the bound.
	// A timeout behaves like abnormal process exit.
	CommandTimeoutSec int `json:"commandTimeoutSec,omitempty"`
	// IdleTimeoutSec closes sessions with no activity. Default 1800.
	IdleTimeoutSec int `json:"idleTimeoutSec,omitempty"`
	// ExitAfterIdlePolls makes the worker loop return after this many
	// consecutive empty long-polls, letting idle workers retire themselves.
	// 0 keeps the loop running forever.
	ExitAfterIdlePolls int `json:"exitAfterIdlePolls,omitempty"`
	// WorkspaceDir is the parent directory for session workspaces.
	// Defaults to a directory under the OS temp dir.
	WorkspaceDir string `json:"workspaceDir,omitempty"`
}

// OrchestratorConfig configures the autoscaler.
type OrchestratorConfig struct {
	MinWorkers        int `json:"minWorkers,omitempty"`        // default 1
	MaxWorkers        int `json:"maxWorkers,omitempty"`        // default 10
	MessagesPerWorker int `json:"messagesPerWorker,omitempty"` // default 5
	PollIntervalSec   int `json:"pollIntervalSec,omitempty"`   // default 30
}

// WorkspaceConfig configures workspace materialization and reconciliation.
type WorkspaceConfig struct {
	// ExcludedDirs lists directory glob patterns never synced back to the
	// object store (version-control metadata, dependency trees).
	ExcludedDirs []string `json:"excludedDirs,omitempty"`
}

// Defaults for every tunable above.
const (
	DefaultPort                 = 8080
	DefaultHostname             = "127.0.0.1"
	DefaultPersistDebounce      = 2 * time.Second
	DefaultVisibilityTimeout    = 5 * time.Minute
	DefaultLongPoll             = 20 * time.Second
	DefaultCommandTimeout       = 0 * time.Second
	DefaultIdleTimeout          = 30 * time.Minute
	DefaultMinWorkers           = 1
	DefaultMaxWorkers           = 10
	DefaultMessagesPerWorker    = 5
	DefaultOrchestratorInterval = 30 * time.Second
	DefaultBackend              = "local"
)

// DefaultExcludedDirs are the directory patterns skipped by reconciliation
// when no override is configured.
var DefaultExcludedDirs = []string{".git", "node_modules", "vendor", "__pycache__", ".cache"}

// PersistDebounce returns the configured debounce window or the default.
func (c *Config) PersistDebounce() time.Duration {
	if c != nil && c.Sync != nil && c.Sync.PersistDebounceMs > 0 {
		return time.Duration(c.Sync.PersistDebounceMs) * time.Millisecond
	}
	return DefaultPersistDebounce
}

// VisibilityTimeout returns the configured queue visibility window or the default.
func (c *Config) VisibilityTimeout() time.Duration {
	if c != nil && c.Queue != nil && c.Queue.VisibilityTimeoutSec > 0 {
		return time.Duration(c.Queue.VisibilityTimeoutSec) * time.Second
	}
	return DefaultVisibilityTimeout
}

// LongPoll returns the configured receive wait or the default.
func (c *Config) LongPoll() time.Duration {
	if c != nil && c.Queue != nil && c.Queue.LongPollSec > 0 {
		return time.Duration(c.Queue.LongPollSec) * time.Second
	}
	return DefaultLongPoll
}

// CommandTimeout returns the per-command bound; zero means unbounded.
func (c *Config) CommandTimeout() time.Duration {
	if c != nil && c.Worker != nil && c.Worker.CommandTimeoutSec > 0 {
		return time.Duration(c.Worker.CommandTimeoutSec) * time.Second
	}
	return DefaultCommandTimeout
}

// IdleTimeout returns the session idle bound or the default.
func (c *Config) IdleTimeout() time.Duration {
	if c != nil && c.Worker != nil && c.Worker.IdleTimeoutSec > 0 {
		return time.Duration(c.Worker.IdleTimeoutSec) * time.Second
	}
	return DefaultIdleTimeout
}

// MinWorkers returns the configured floor or the default.
func (c *Config) MinWorkers() int {
	if c != nil && c.Orchestrator != nil && c.Orchestrator.MinWorkers > 0 {
		return c.Orchestrator.MinWorkers
	}
	return DefaultMinWorkers
}

// MaxWorkers returns the configured ceiling or the default.
func (c *Config) MaxWorkers() int {
	if c != nil && c.Orchestrator != nil && c.Orchestrator.MaxWorkers > 0 {
		return c.Orchestrator.MaxWorkers
	}
	return DefaultMaxWorkers
}

// MessagesPerWorker returns the scaling ratio or the default.
func (c *Config) MessagesPerWorker() int {
	if c != nil && c.Orchestrator != nil && c.Orchestrator.MessagesPerWorker > 0 {
		return c.Orchestrator.MessagesPerWorker
	}
	return DefaultMessagesPerWorker
}

// OrchestratorInterval returns the autoscaler tick or the default.
func (c *Config) OrchestratorInterval() time.Duration {
	if c != nil && c.Orchestrator != nil && c.Orchestrator.PollIntervalSec > 0 {
		return time.Duration(c.Orchestrator.PollIntervalSec) * time.Second
	}
	return DefaultOrchestratorInterval
}

// Backend returns the selected worker backend name.
func (c *Config) Backend() string {
	if c != nil && c.Worker != nil && c.Worker.Backend != "" {
		return c.Worker.Backend
	}
	return DefaultBackend
}

// ExcludedDirs returns the workspace exclusion patterns.
func (c *Config) ExcludedDirs() []string {
	if c != nil && c.Workspace != nil && len(c.Workspace.ExcludedDirs) > 0 {
		return c.Workspace.ExcludedDirs
	}
	return DefaultExcludedDirs
}
