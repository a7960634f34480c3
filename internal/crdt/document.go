package crdt

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID uniquely identifies one character across all replicas. The zero ID is
// the virtual root that starts every document.
type ID struct {
	Replica string `json:"r,omitempty"`
	Counter uint64 `json:"c,omitempty"`
}

// IsRoot reports whether the ID is the virtual document root.
func (id ID) IsRoot() bool {
	return id.Replica == "" && id.Counter == 0
}

// less orders sibling inserts: the greater (counter, replica) pair sorts
// first, identically on every replica.
func (id ID) less(other ID) bool {
	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}
	return id.Replica < other.Replica
}

type element struct {
	ID      ID     `json:"id"`
	Origin  ID     `json:"or,omitempty"`
	Rune    string `json:"ch,omitempty"`
	Deleted bool   `json:"del,omitempty"`
}

// op is one unit of an update. An insert op carries a run of characters:
// the i-th rune has ID (Replica, Counter+i) and hangs off the previous one.
type op struct {
	Insert *insertOp `json:"ins,omitempty"`
	Delete *deleteOp `json:"del,omitempty"`
}

type insertOp struct {
	ID     ID     `json:"id"`
	Origin ID     `json:"or,omitempty"`
	Text   string `json:"text"`
}

type deleteOp struct {
	IDs []ID `json:"ids"`
}

// update is the wire form of an Update.
type update struct {
	Replica string `json:"replica"`
	Ops     []op   `json:"ops"`
}

// state is the wire form of a snapshot.
type state struct {
	Elements []element `json:"elements"`
}

// Document is one replica of a collaborative text document. All methods are
// safe for concurrent use.
type Document struct {
	mu      sync.Mutex
	replica string
	counter uint64
	elems   []element
	index   map[ID]int
	pending []op
}

var entropyMu sync.Mutex
var entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

// NewReplicaID returns a fresh globally-unique replica identifier.
func NewReplicaID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// New creates an empty document for the given replica.
func New(replica string) *Document {
	if replica == "" {
		replica = NewReplicaID()
	}
	return &Document{
		replica: replica,
		index:   make(map[ID]int),
	}
}

// Replica returns the document's replica identifier.
func (d *Document) Replica() string {
	return d.replica
}

// Text returns the current visible content.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked()
}

func (d *Document) textLocked() string {
	var out []byte
	for _, e := range d.elems {
		if !e.Deleted {
			out = append(out, e.Rune...)
		}
	}
	return string(out)
}

// Len returns the number of visible characters.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.elems {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// InsertAt inserts text before visible position pos and returns the update
// to broadcast. Positions are clamped to the document bounds.
func (d *Document) InsertAt(pos int, text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	o := d.insertLocked(pos, text)
	return d.encodeUpdate([]op{{Insert: &o}})
}

// DeleteAt removes length visible characters starting at pos and returns the
// update to broadcast.
func (d *Document) DeleteAt(pos, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	o := d.deleteLocked(pos, length)
	if len(o.IDs) == 0 {
		return nil, nil
	}
	return d.encodeUpdate([]op{{Delete: &o}})
}

func (d *Document) insertLocked(pos int, text string) insertOp {
	origin := d.visibleOrigin(pos)

	d.counter++
	o := insertOp{
		ID:     ID{Replica: d.replica, Counter: d.counter},
		Origin: origin,
		Text:   text,
	}
	runes := []rune(text)
	d.counter += uint64(len(runes)) - 1
	d.integrateInsert(o)
	return o
}

func (d *Document) deleteLocked(pos, length int) deleteOp {
	var o deleteOp
	seen := 0
	for i := range d.elems {
		if d.elems[i].Deleted {
			continue
		}
		if seen >= pos && len(o.IDs) < length {
			d.elems[i].Deleted = true
			o.IDs = append(o.IDs, d.elems[i].ID)
		}
		seen++
		if len(o.IDs) == length {
			break
		}
	}
	return o
}

// visibleOrigin returns the ID of the visible element immediately before
// position pos, or the root for pos 0.
func (d *Document) visibleOrigin(pos int) ID {
	if pos <= 0 {
		return ID{}
	}
	seen := 0
	for _, e := range d.elems {
		if e.Deleted {
			continue
		}
		seen++
		if seen == pos {
			return e.ID
		}
	}
	if len(d.elems) > 0 {
		return d.elems[len(d.elems)-1].ID
	}
	return ID{}
}

func (d *Document) encodeUpdate(ops []op) ([]byte, error) {
	data, err := json.Marshal(update{Replica: d.replica, Ops: ops})
	if err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	return data, nil
}

// ApplyUpdate merges a remote update into this replica. Applying the same
// update twice, or applying updates out of order, converges to the same
// content: known operations are skipped and operations whose origin has not
// arrived yet are buffered until it does.
func (d *Document) ApplyUpdate(data []byte) error {
	var u update
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("failed to decode update: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, o := range u.Ops {
		d.applyOp(o)
	}
	d.drainPending()
	return nil
}

func (d *Document) applyOp(o op) bool {
	switch {
	case o.Insert != nil:
		return d.applyInsert(*o.Insert)
	case o.Delete != nil:
		return d.applyDelete(*o.Delete)
	}
	return true // unknown op shapes are dropped, not buffered
}

func (d *Document) applyInsert(o insertOp) bool {
	if _, known := d.index[o.ID]; known {
		return true // duplicate delivery
	}
	if !o.Origin.IsRoot() {
		if _, ok := d.index[o.Origin]; !ok {
			d.pending = append(d.pending, op{Insert: &o})
			return false
		}
	}
	d.integrateInsert(o)
	if o.ID.Counter+uint64(len([]rune(o.Text)))-1 > d.counter {
		d.counter = o.ID.Counter + uint64(len([]rune(o.Text))) - 1
	}
	return true
}

func (d *Document) applyDelete(o deleteOp) bool {
	var missing []ID
	for _, id := range o.IDs {
		if i, ok := d.index[id]; ok {
			d.elems[i].Deleted = true
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		d.pending = append(d.pending, op{Delete: &deleteOp{IDs: missing}})
		return false
	}
	return true
}

// drainPending retries buffered operations until none make progress.
// Operations that are still not ready re-buffer themselves.
func (d *Document) drainPending() {
	for {
		queue := d.pending
		if len(queue) == 0 {
			return
		}
		d.pending = nil
		progressed := false
		for _, o := range queue {
			if d.applyOp(o) {
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// integrateInsert places a run of characters into the sequence using the
// RGA sibling rule: among inserts sharing an origin, the greater
// (counter, replica) sorts first, and a sibling's subtree follows it
// immediately.
func (d *Document) integrateInsert(o insertOp) {
	originPos := -1
	if !o.Origin.IsRoot() {
		originPos = d.index[o.Origin]
	}

	runes := []rune(o.Text)
	id := o.ID
	origin := o.Origin
	for ri, r := range runes {
		if ri > 0 {
			origin = id
			id = ID{Replica: o.ID.Replica, Counter: o.ID.Counter + uint64(ri)}
			originPos = d.index[origin]
		}
		pos := d.findInsertPos(originPos, id)
		d.insertElement(pos, element{ID: id, Origin: origin, Rune: string(r)})
	}
}

func (d *Document) findInsertPos(originPos int, id ID) int {
	i := originPos + 1
	for i < len(d.elems) {
		e := d.elems[i]
		eOriginPos := -1
		if !e.Origin.IsRoot() {
			eOriginPos = d.index[e.Origin]
		}
		if eOriginPos < originPos {
			break // left the origin's subtree
		}
		if eOriginPos == originPos {
			if id.less(e.ID) {
				i++ // existing sibling wins, skip it and fall through its subtree
				continue
			}
			break // new element sorts before this sibling
		}
		i++ // inside a preceding sibling's subtree
	}
	return i
}

func (d *Document) insertElement(pos int, e element) {
	d.elems = append(d.elems, element{})
	copy(d.elems[pos+1:], d.elems[pos:])
	d.elems[pos] = e
	d.index[e.ID] = pos
	for i := pos + 1; i < len(d.elems); i++ {
		d.index[d.elems[i].ID] = i
	}
}

// EncodeState serializes the full document state including tombstones.
func (d *Document) EncodeState() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.Marshal(state{Elements: d.elems})
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// DecodeState reconstructs a document from a snapshot for the given
// replica. Empty input yields an empty document; corrupt input returns an
// error so callers can decide to fall back to empty.
func DecodeState(data []byte, replica string) (*Document, error) {
	d := New(replica)
	if len(data) == 0 {
		return d, nil
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	for i, e := range s.Elements {
		d.elems = append(d.elems, e)
		d.index[e.ID] = i
		if e.ID.Counter > d.counter {
			d.counter = e.ID.Counter
		}
	}
	return d, nil
}

// Merge folds the other document's state into this one. Merging is
// idempotent and commutative: elements already present are skipped,
// tombstones are unioned.
func (d *Document) Merge(other *Document) {
	other.mu.Lock()
	elems := make([]element, len(other.elems))
	copy(elems, other.elems)
	other.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Element order implies origin-before-element, so a single ordered pass
	// is causally ready.
	for _, e := range elems {
		if i, known := d.index[e.ID]; known {
			if e.Deleted {
				d.elems[i].Deleted = true
			}
			continue
		}
		d.applyInsert(insertOp{ID: e.ID, Origin: e.Origin, Text: e.Rune})
		if e.Deleted {
			if i, ok := d.index[e.ID]; ok {
				d.elems[i].Deleted = true
			}
		}
	}
	d.drainPending()
}

// MergeState is Merge over a serialized snapshot.
func (d *Document) MergeState(data []byte) error {
	other, err := DecodeState(data, "merge")
	if err != nil {
		return err
	}
	d.Merge(other)
	return nil
}
