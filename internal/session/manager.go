package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codewave-dev/codewave/internal/blobstore"
	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/internal/pubsub"
	"github.com/codewave-dev/codewave/internal/workspace"
	"github.com/codewave-dev/codewave/pkg/types"
)

// ErrClosed is returned when a command hits a session that closed while the
// command waited its turn.
var ErrClosed = errors.New("session closed")

// Options configures a Manager.
type Options struct {
	// WorkspaceRoot is the parent directory under which per-session
	// workspaces are created.
	WorkspaceRoot string
	// ExcludedDirs are reconciliation skip patterns.
	ExcludedDirs []string
	// IdleTimeout closes sessions with no activity for this long. Zero
	// disables reaping.
	IdleTimeout time.Duration
}

// Manager owns the session map. At most one session exists per key;
// commands for one session are serialized, sessions are independent of each
// other.
type Manager struct {
	store      blobstore.Store
	bus        *pubsub.Bus
	backend    Backend
	reconciler *workspace.Reconciler
	root       string
	idle       time.Duration
	log        zerolog.Logger

	mu       sync.Mutex
	sessions map[types.SessionKey]*Session
}

// Session is one tracked execution environment.
type Session struct {
	key types.SessionKey
	dir string

	// provisioned closes when provisioning finishes; provisionErr is set
	// before the close when it failed.
	provisioned  chan struct{}
	provisionErr error

	// execMu serializes provisioning, commands and teardown.
	execMu sync.Mutex

	mu       sync.Mutex
	state    types.SessionState
	watcher  *workspace.Watcher
	created  int64
	activity int64
}

func (s *Session) setState(state types.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.activity = time.Now().UnixMilli()
	s.mu.Unlock()
}

// Info returns the API-visible view of the session.
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionInfo{
		ProjectID:  s.key.ProjectID,
		TerminalID: s.key.TerminalID,
		State:      s.state,
		Workspace:  s.dir,
		Time:       types.SessionTime{Created: s.created, Activity: s.activity},
	}
}

// NewManager creates a session manager.
func NewManager(store blobstore.Store, bus *pubsub.Bus, backend Backend, opts Options) *Manager {
	root := opts.WorkspaceRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), "codewave-workspaces")
	}
	return &Manager{
		store:      store,
		bus:        bus,
		backend:    backend,
		reconciler: workspace.NewReconciler(store, opts.ExcludedDirs),
		root:       root,
		idle:       opts.IdleTimeout,
		log:        logging.Component("session"),
		sessions:   make(map[types.SessionKey]*Session),
	}
}

// Init provisions the session for key if it does not exist yet and returns
// its info. Re-initializing an existing session is a no-op.
func (m *Manager) Init(ctx context.Context, key types.SessionKey) (types.SessionInfo, error) {
	s, err := m.ensure(ctx, key)
	if err != nil {
		return types.SessionInfo{}, err
	}
	return s.Info(), nil
}

// ensure returns the live session for key, provisioning one when none is
// tracked. Callers racing on the same key wait for the first provisioner;
// a failed provision leaves nothing registered.
func (m *Manager) ensure(ctx context.Context, key types.SessionKey) (*Session, error) {
	for {
		m.mu.Lock()
		if s, ok := m.sessions[key]; ok {
			m.mu.Unlock()
			select {
			case <-s.provisioned:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if s.provisionErr != nil {
				return nil, s.provisionErr
			}
			return s, nil
		}

		now := time.Now().UnixMilli()
		s := &Session{
			key:         key,
			dir:         filepath.Join(m.root, key.ProjectID, key.TerminalID),
			provisioned: make(chan struct{}),
			state:       types.SessionProvisioning,
			created:     now,
			activity:    now,
		}
		m.sessions[key] = s
		m.mu.Unlock()

		if err := m.provision(ctx, s); err != nil {
			s.provisionErr = err
			m.mu.Lock()
			delete(m.sessions, key)
			m.mu.Unlock()
			close(s.provisioned)
			m.publish(key, types.TerminalEvent{
				Type:       types.TerminalError,
				ProjectID:  key.ProjectID,
				TerminalID: key.TerminalID,
				Data:       err.Error(),
			})
			m.log.Error().Err(err).Str("session", key.String()).Msg("Provisioning failed")
			return nil, err
		}

		s.setState(types.SessionReady)
		close(s.provisioned)
		m.publish(key, types.TerminalEvent{
			Type:       types.TerminalReady,
			ProjectID:  key.ProjectID,
			TerminalID: key.TerminalID,
		})
		m.log.Info().Str("session", key.String()).Str("dir", s.dir).Msg("Session provisioned")
		return s, nil
	}
}

func (m *Manager) provision(ctx context.Context, s *Session) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	if err := workspace.Materialize(ctx, m.store, s.key.ProjectID, s.dir); err != nil {
		return err
	}
	if err := m.backend.Provision(ctx, s.dir); err != nil {
		return err
	}

	w, err := workspace.NewWatcher(s.dir)
	if err != nil {
		// Full rescans still work without a watcher.
		m.log.Warn().Err(err).Str("session", s.key.String()).Msg("Workspace watcher unavailable")
	} else {
		s.mu.Lock()
		s.watcher = w
		s.mu.Unlock()
	}
	return nil
}

// Execute runs one command in the session for cmd's key, provisioning it on
// first use. Output is published in chunks as the command produces it.
// Abnormal completion (timeout, broken environment) closes the session
// after a final reconciliation.
func (m *Manager) Execute(ctx context.Context, cmd types.Command) error {
	key := cmd.SessionKey()
	for {
		s, err := m.ensure(ctx, key)
		if err != nil {
			return err
		}

		s.execMu.Lock()
		s.mu.Lock()
		closed := s.state == types.SessionClosed
		s.mu.Unlock()
		if closed {
			// Closed while this command waited its turn; start fresh.
			s.execMu.Unlock()
			continue
		}
		err = m.executeLocked(ctx, s, cmd)
		s.execMu.Unlock()
		return err
	}
}

func (m *Manager) executeLocked(ctx context.Context, s *Session, cmd types.Command) error {
	s.setState(types.SessionExecuting)
	s.touch()

	out := &chunkPublisher{m: m, key: s.key}
	err := m.backend.Execute(ctx, s.dir, cmd.Command, out)
	switch {
	case err == nil:
	case errors.Is(err, ErrSpawn):
		// The command never started; surface the failure as output.
		m.publish(s.key, types.TerminalEvent{
			Type:       types.TerminalOutput,
			ProjectID:  s.key.ProjectID,
			TerminalID: s.key.TerminalID,
			Data:       err.Error() + "\n",
		})
	default:
		m.log.Warn().Err(err).Str("session", s.key.String()).Msg("Abnormal command exit, closing session")
		m.publish(s.key, types.TerminalEvent{
			Type:       types.TerminalError,
			ProjectID:  s.key.ProjectID,
			TerminalID: s.key.TerminalID,
			Data:       err.Error(),
		})
		m.teardownLocked(ctx, s)
		return err
	}

	if err := m.reconcile(ctx, s); err != nil {
		m.log.Error().Err(err).Str("session", s.key.String()).Msg("Post-command reconciliation failed")
	}

	s.setState(types.SessionReady)
	s.touch()
	return nil
}

// reconcile syncs workspace mutations back to the store. The watcher's
// dirty set drives an incremental pass; a degraded or missing watcher falls
// back to a full rescan.
func (m *Manager) reconcile(ctx context.Context, s *Session) error {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()

	if w != nil {
		if paths, ok := w.Dirty(); ok {
			if len(paths) == 0 {
				return nil
			}
			return m.reconciler.ReconcilePaths(ctx, s.key.ProjectID, s.dir, paths)
		}
	}
	return m.reconciler.Reconcile(ctx, s.key.ProjectID, s.dir)
}

// Close terminates the session for key. Unknown keys are a no-op.
func (m *Manager) Close(ctx context.Context, key types.SessionKey) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-s.provisioned:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.provisionErr != nil {
		return nil
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.mu.Lock()
	closed := s.state == types.SessionClosed
	s.mu.Unlock()
	if closed {
		return nil
	}
	m.teardownLocked(ctx, s)
	return nil
}

// teardownLocked runs the closing sequence: final reconciliation, backend
// release, watcher stop, removal from the map. Caller holds execMu.
func (m *Manager) teardownLocked(ctx context.Context, s *Session) {
	s.setState(types.SessionClosing)

	if err := m.reconciler.Reconcile(ctx, s.key.ProjectID, s.dir); err != nil {
		m.log.Error().Err(err).Str("session", s.key.String()).Msg("Final reconciliation failed")
	}
	if err := m.backend.Terminate(ctx, s.dir); err != nil {
		m.log.Warn().Err(err).Str("session", s.key.String()).Msg("Backend terminate failed")
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		m.log.Warn().Err(err).Str("dir", s.dir).Msg("Workspace cleanup failed")
	}

	s.setState(types.SessionClosed)
	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
	m.log.Info().Str("session", s.key.String()).Msg("Session closed")
}

// Resize is advisory; neither backend drives a PTY, so it only counts as
// session activity.
func (m *Manager) Resize(key types.SessionKey, cols, rows int) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		s.touch()
	}
}

// Get returns the session info for key.
func (m *Manager) Get(key types.SessionKey) (types.SessionInfo, bool) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return types.SessionInfo{}, false
	}
	return s.Info(), true
}

// List returns every tracked session.
func (m *Manager) List() []types.SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// CloseAll terminates every tracked session, for shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	keys := make([]types.SessionKey, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		if err := m.Close(ctx, key); err != nil {
			m.log.Warn().Err(err).Str("session", key.String()).Msg("Close failed during shutdown")
		}
	}
}

// ReapIdle closes sessions whose last activity is older than the idle
// timeout. Returns the number reaped.
func (m *Manager) ReapIdle(ctx context.Context) int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.idle).UnixMilli()

	m.mu.Lock()
	var stale []types.SessionKey
	for key, s := range m.sessions {
		s.mu.Lock()
		idle := s.activity < cutoff && s.state == types.SessionReady
		s.mu.Unlock()
		if idle {
			stale = append(stale, key)
		}
	}
	m.mu.Unlock()

	reaped := 0
	for _, key := range stale {
		if err := m.Close(ctx, key); err != nil {
			m.log.Warn().Err(err).Str("session", key.String()).Msg("Idle reap failed")
			continue
		}
		m.log.Info().Str("session", key.String()).Msg("Reaped idle session")
		reaped++
	}
	return reaped
}

// RunReaper periodically reaps idle sessions until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(ctx)
		}
	}
}

func (m *Manager) publish(key types.SessionKey, ev types.TerminalEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	topic := pubsub.TerminalOutputTopic(key.ProjectID, key.TerminalID)
	if err := m.bus.Publish(topic, payload, ""); err != nil {
		m.log.Warn().Err(err).Str("topic", topic).Msg("Publish failed")
	}
}

// chunkPublisher forwards each write to the terminal output topic without
// buffering to completion.
type chunkPublisher struct {
	m   *Manager
	key types.SessionKey
}

func (w *chunkPublisher) Write(p []byte) (int, error) {
	w.m.publish(w.key, types.TerminalEvent{
		Type:       types.TerminalOutput,
		ProjectID:  w.key.ProjectID,
		TerminalID: w.key.TerminalID,
		Data:       string(p),
	})
	return len(p), nil
}
