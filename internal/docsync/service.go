// Package docsync provides the document synchronization service: it owns the
// in-memory replicated document state per (project, file), merges incoming
// updates, persists snapshots after a debounce window, and republishes deltas
// to every subscriber except the originator.
package docsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codewave-dev/codewave/internal/blobstore"
	"github.com/codewave-dev/codewave/internal/crdt"
	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/internal/pubsub"
	"github.com/codewave-dev/codewave/pkg/types"
)

const subscriberBuffer = 64

// Service is the document synchronization service. One in-memory document
// exists per key; all bookkeeping for a key is serialized by the key's
// entry lock.
type Service struct {
	store    blobstore.Store
	bus      *pubsub.Bus
	debounce time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[types.DocumentKey]*entry
	closed  bool
}

// ErrShutdown is returned for updates arriving after Shutdown.
var ErrShutdown = errors.New("document service is shut down")

// entry is the single-writer cache slot for one document.
type entry struct {
	mu          sync.Mutex
	doc         *crdt.Document
	loaded      bool
	timer       *time.Timer
	dirty       bool
	subscribers map[string]chan types.DocumentUpdate
}

// New creates a Service persisting through store and broadcasting through bus.
func New(store blobstore.Store, bus *pubsub.Bus, debounce time.Duration) *Service {
	if debounce <= 0 {
		debounce = types.DefaultPersistDebounce
	}
	return &Service{
		store:    store,
		bus:      bus,
		debounce: debounce,
		log:      logging.Component("docsync"),
		entries:  make(map[types.DocumentKey]*entry),
	}
}

// Open returns the document's current replicated state, loading the durable
// snapshot on first access. When both a cached document and a durable
// snapshot exist, the snapshot is merged into the cache rather than
// overwriting it, so concurrently-applied in-memory updates survive.
func (s *Service) Open(ctx context.Context, projectID, filePath string) ([]byte, error) {
	key := types.DocumentKey{ProjectID: projectID, FilePath: filePath}
	e, created := s.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.mergeDurableLocked(ctx, key, e); err != nil {
		return nil, err
	}

	if created {
		s.log.Debug().Str("project", projectID).Str("file", filePath).Msg("document opened")
	}
	return e.doc.EncodeState()
}

// ApplyUpdate merges an update into the in-memory state, schedules a
// debounced persist, and broadcasts the delta to all subscribers except the
// originator. Safe under redelivery and reordering.
func (s *Service) ApplyUpdate(ctx context.Context, projectID, filePath string, update []byte, origin string) error {
	if s.isClosed() {
		return ErrShutdown
	}
	key := types.DocumentKey{ProjectID: projectID, FilePath: filePath}
	e, _ := s.entry(key)

	e.mu.Lock()
	// An update can land on a cold cache, e.g. a client reconnecting after a
	// server restart that edits before re-opening. The durable snapshot must
	// be folded in first or the next persist would overwrite it with only
	// this delta.
	if !e.loaded {
		if err := s.mergeDurableLocked(ctx, key, e); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	if err := e.doc.ApplyUpdate(update); err != nil {
		e.mu.Unlock()
		return err
	}
	e.dirty = true
	s.schedulePersistLocked(key, e)

	subs := make(map[string]chan types.DocumentUpdate, len(e.subscribers))
	for id, ch := range e.subscribers {
		subs[id] = ch
	}
	e.mu.Unlock()

	msg := types.DocumentUpdate{
		ProjectID: projectID,
		FilePath:  filePath,
		Update:    update,
		Origin:    origin,
	}

	// Local listeners, excluding the update's originator.
	for id, ch := range subs {
		if id == origin {
			continue
		}
		select {
		case ch <- msg:
		default:
			s.log.Warn().Str("subscriber", id).Str("file", filePath).
				Msg("dropping delta for slow subscriber")
		}
	}

	// Other server instances via the bus; they filter on origin themselves.
	if err := s.bus.Publish(pubsub.DocUpdateTopic(projectID, filePath), update, origin); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish document delta")
	}
	return nil
}

// Subscribe registers a listener for broadcast deltas. Re-subscribing an
// already-subscribed (key, subscriber) pair returns the existing channel
// instead of adding a duplicate listener.
func (s *Service) Subscribe(projectID, filePath, subscriberID string) <-chan types.DocumentUpdate {
	key := types.DocumentKey{ProjectID: projectID, FilePath: filePath}
	e, _ := s.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.subscribers[subscriberID]; ok {
		return ch
	}
	ch := make(chan types.DocumentUpdate, subscriberBuffer)
	e.subscribers[subscriberID] = ch
	return ch
}

// Unsubscribe removes a listener and closes its channel. Unknown
// subscribers are ignored.
func (s *Service) Unsubscribe(projectID, filePath, subscriberID string) {
	key := types.DocumentKey{ProjectID: projectID, FilePath: filePath}

	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subscribers[subscriberID]; ok {
		delete(e.subscribers, subscriberID)
		close(ch)
	}
}

// Close evicts the in-memory state and deletes the durable snapshot. Used
// only when the owning project is deleted, never on idle.
func (s *Service) Close(ctx context.Context, projectID, filePath string) error {
	key := types.DocumentKey{ProjectID: projectID, FilePath: filePath}

	s.mu.Lock()
	e, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if ok {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		for id, ch := range e.subscribers {
			delete(e.subscribers, id)
			close(ch)
		}
		e.mu.Unlock()
	}

	return s.store.Delete(ctx, blobstore.SnapshotKey(projectID, filePath))
}

// Flush persists every dirty document immediately. Called at shutdown so a
// pending debounce window cannot lose the last edits.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]types.DocumentKey, 0, len(s.entries))
	entries := make([]*entry, 0, len(s.entries))
	for k, e := range s.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var firstErr error
	for i, e := range entries {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		dirty := e.dirty
		e.dirty = false
		var snap []byte
		var err error
		if dirty {
			snap, err = e.doc.EncodeState()
		}
		e.mu.Unlock()

		if !dirty {
			continue
		}
		if err == nil {
			err = s.store.Put(ctx, blobstore.SnapshotKey(keys[i].ProjectID, keys[i].FilePath), snap)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown flushes pending persists and stops the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}

// entry returns the cache slot for a key, creating it if needed. The second
// result reports whether the slot was created by this call.
func (s *Service) entry(key types.DocumentKey) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		return e, false
	}
	e := &entry{
		doc:         crdt.New(crdt.NewReplicaID()),
		subscribers: make(map[string]chan types.DocumentUpdate),
	}
	s.entries[key] = e
	return e, true
}

// mergeDurableLocked folds the durable snapshot, if any, into the entry's
// live document. Callers hold the entry lock. Merging is idempotent, so
// repeated calls (every Open) only pick up snapshots written by other
// instances since the last one.
func (s *Service) mergeDurableLocked(ctx context.Context, key types.DocumentKey, e *entry) error {
	snap, err := s.store.Get(ctx, blobstore.SnapshotKey(key.ProjectID, key.FilePath))
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		// Nothing durable yet.
	case err != nil:
		return err
	default:
		if mergeErr := e.doc.MergeState(snap); mergeErr != nil {
			// A corrupt snapshot is treated as an empty document rather
			// than propagated, trading potential data loss for availability.
			s.log.Warn().Err(mergeErr).
				Str("project", key.ProjectID).Str("file", key.FilePath).
				Msg("ignoring unreadable document snapshot")
		}
	}
	e.loaded = true
	return nil
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// schedulePersistLocked resets the entry's debounce timer. Callers hold the
// entry lock; the timer callback re-acquires it, so reset-vs-fire races
// resolve to a single persist.
func (s *Service) schedulePersistLocked(key types.DocumentKey, e *entry) {
	if s.isClosed() {
		// Shutdown's final flush covers the dirty state; a timer here could
		// fire after it.
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(s.debounce, func() {
		s.persist(key, e)
	})
}

func (s *Service) persist(key types.DocumentKey, e *entry) {
	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return
	}
	e.dirty = false
	snap, err := e.doc.EncodeState()
	e.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("file", key.FilePath).Msg("failed to encode document state")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Put(ctx, blobstore.SnapshotKey(key.ProjectID, key.FilePath), snap); err != nil {
		s.log.Error().Err(err).Str("file", key.FilePath).Msg("failed to persist document snapshot")
		// Leave the document dirty so the next update retries.
		e.mu.Lock()
		e.dirty = true
		e.mu.Unlock()
	}
}
