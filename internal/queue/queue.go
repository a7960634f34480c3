// Package queue provides the distributed command queue: durable,
// at-least-once delivery with long-poll receive, explicit acknowledgement,
// and a visibility timeout that returns unacknowledged messages to the queue.
//
// Delivery is at-least-once. Handlers must tolerate receiving the
// same command twice; a command that partially executed before a consumer
// crash will be redelivered and re-run once its visibility window expires.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/codewave-dev/codewave/pkg/types"
)

var (
	// ErrUnknownToken is returned when acknowledging a token that is not in
	// flight (already acknowledged, or reclaimed after visibility expiry).
	ErrUnknownToken = errors.New("unknown ack token")
)

const (
	visibleDir  = "messages"
	inflightDir = "inflight"
	leaseSuffix = ".lease"

	// pollInterval is the scan cadence inside a long-poll receive.
	pollInterval = 250 * time.Millisecond
)

// envelope is the durable message format. Delivery attributes sit beside the
// body so consumers can filter without deserializing the command itself.
type envelope struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"projectID"`
	TerminalID string        `json:"terminalID"`
	Body       types.Command `json:"body"`
}

type lease struct {
	Deadline int64  `json:"deadline"` // Unix milliseconds
	Nonce    string `json:"nonce"`
}

// Delivery is one received message: the command plus the token that
// acknowledges it.
type Delivery struct {
	Command  types.Command
	AckToken string
}

// Options tune a queue.
type Options struct {
	// VisibilityTimeout hides received messages until acknowledged or expired.
	VisibilityTimeout time.Duration
	// LongPoll bounds one Receive call's wait for messages.
	LongPoll time.Duration
}

// Queue is a durable directory-backed command queue. Messages are single
// JSON files; a receive atomically renames the file into the in-flight
// directory, which is the claim. Safe for concurrent consumers sharing the
// directory.
type Queue struct {
	fs      afero.Fs
	dir     string
	opts    Options
	entropy *ulid.MonotonicEntropy

	mu     sync.Mutex
	notify chan struct{}
}

// New creates a queue rooted at dir on the OS filesystem.
func New(dir string, opts Options) *Queue {
	return NewFs(afero.NewOsFs(), dir, opts)
}

// NewFs creates a queue rooted at dir on the given filesystem.
func NewFs(fsys afero.Fs, dir string, opts Options) *Queue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = types.DefaultVisibilityTimeout
	}
	if opts.LongPoll <= 0 {
		opts.LongPoll = types.DefaultLongPoll
	}
	return &Queue{
		fs:      fsys,
		dir:     dir,
		opts:    opts,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		notify:  make(chan struct{}, 1),
	}
}

// Declare creates the queue directories. Safe to call repeatedly.
func (q *Queue) Declare(ctx context.Context) error {
	for _, d := range []string{visibleDir, inflightDir} {
		if err := q.fs.MkdirAll(filepath.Join(q.dir, d), 0755); err != nil {
			return fmt.Errorf("failed to declare queue: %w", err)
		}
	}
	return nil
}

// Enqueue appends a command to the queue.
func (q *Queue) Enqueue(ctx context.Context, cmd types.Command) error {
	q.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), q.entropy).String()
	q.mu.Unlock()

	env := envelope{
		ID:         id,
		ProjectID:  cmd.ProjectID,
		TerminalID: cmd.TerminalID,
		Body:       cmd,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	path := filepath.Join(q.dir, visibleDir, id+".json")
	// Write to temp file first, then rename so consumers never see a
	// half-written message.
	tmpPath := path + ".tmp"
	if err := afero.WriteFile(q.fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := q.fs.Rename(tmpPath, path); err != nil {
		q.fs.Remove(tmpPath)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	// Wake one same-process long-poller.
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive waits up to the long-poll window for messages and returns at most
// max of them. Received messages stay invisible until acknowledged or until
// the visibility timeout passes.
func (q *Queue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(q.opts.LongPoll)

	for {
		if err := q.requeueExpired(); err != nil {
			return nil, err
		}

		deliveries, err := q.claim(max)
		if err != nil {
			return nil, err
		}
		if len(deliveries) > 0 {
			return deliveries, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack permanently removes a message after successful processing. The token
// names one specific claim: after a visibility expiry and redelivery the old
// token no longer matches and acknowledging it fails with ErrUnknownToken.
func (q *Queue) Ack(ctx context.Context, token string) error {
	id, nonce, ok := strings.Cut(token, ".")
	if !ok {
		return ErrUnknownToken
	}

	inflight := filepath.Join(q.dir, inflightDir, id+".json")
	leasePath := inflight + leaseSuffix

	data, err := afero.ReadFile(q.fs, leasePath)
	if err != nil {
		return ErrUnknownToken
	}
	var l lease
	if err := json.Unmarshal(data, &l); err != nil || l.Nonce != nonce {
		return ErrUnknownToken
	}

	if err := q.fs.Remove(inflight); err != nil {
		if os.IsNotExist(err) {
			return ErrUnknownToken
		}
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	q.fs.Remove(leasePath)
	return nil
}

// Depth returns the approximate number of visible messages.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	if err := q.requeueExpired(); err != nil {
		return 0, err
	}
	ids, err := q.listMessages(visibleDir)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// claim moves up to max visible messages into the in-flight directory. The
// rename is the claim: only one consumer can win it.
func (q *Queue) claim(max int) ([]Delivery, error) {
	ids, err := q.listMessages(visibleDir)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids) // ULIDs sort by enqueue time

	var deliveries []Delivery
	for _, id := range ids {
		if len(deliveries) >= max {
			break
		}
		visible := filepath.Join(q.dir, visibleDir, id+".json")
		inflight := filepath.Join(q.dir, inflightDir, id+".json")
		if err := q.fs.Rename(visible, inflight); err != nil {
			continue // another consumer won the claim
		}

		data, err := afero.ReadFile(q.fs, inflight)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Corrupt message: drop it rather than poison the queue.
			q.fs.Remove(inflight)
			continue
		}

		q.mu.Lock()
		nonce := ulid.MustNew(ulid.Timestamp(time.Now()), q.entropy).String()
		q.mu.Unlock()

		leaseData, _ := json.Marshal(lease{
			Deadline: time.Now().Add(q.opts.VisibilityTimeout).UnixMilli(),
			Nonce:    nonce,
		})
		if err := afero.WriteFile(q.fs, inflight+leaseSuffix, leaseData, 0644); err != nil {
			return nil, fmt.Errorf("failed to write lease: %w", err)
		}

		deliveries = append(deliveries, Delivery{Command: env.Body, AckToken: id + "." + nonce})
	}
	return deliveries, nil
}

// requeueExpired returns in-flight messages whose lease has lapsed to the
// visible queue, enabling automatic retry after a consumer crash.
func (q *Queue) requeueExpired() error {
	ids, err := q.listMessages(inflightDir)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()

	for _, id := range ids {
		inflight := filepath.Join(q.dir, inflightDir, id+".json")
		leasePath := inflight + leaseSuffix

		data, err := afero.ReadFile(q.fs, leasePath)
		if err != nil {
			if os.IsNotExist(err) {
				// Claim without a lease: the claimer died mid-receive.
				q.fs.Rename(inflight, filepath.Join(q.dir, visibleDir, id+".json"))
			}
			continue
		}
		var l lease
		if err := json.Unmarshal(data, &l); err != nil || l.Deadline > now {
			continue
		}

		if err := q.fs.Rename(inflight, filepath.Join(q.dir, visibleDir, id+".json")); err == nil {
			q.fs.Remove(leasePath)
		}
	}
	return nil
}

func (q *Queue) listMessages(sub string) ([]string, error) {
	entries, err := afero.ReadDir(q.fs, filepath.Join(q.dir, sub))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
