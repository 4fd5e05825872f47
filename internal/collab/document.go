// Package collab keeps one open wish list synchronized between concurrently
// connected agents. Peers exchange presence and entity patches over a
// room-scoped transport; concurrent edits of the same entity resolve by last
// write wins, ordered by a Lamport clock with the origin id as tiebreak.
package collab

import (
	"sync"
)

type stamp struct {
	clock  uint64
	origin string
}

func (s stamp) after(o stamp) bool {
	if s.clock != o.clock {
		return s.clock > o.clock
	}
	return s.origin > o.origin
}

// Document tracks the latest write stamp of every entity in a room
type Document struct {
	origin string

	mu      sync.Mutex
	clock   uint64
	entries map[string]stamp
}

// NewDocument creates a document whose local writes are stamped with origin
func NewDocument(origin string) *Document {
	return &Document{origin: origin, entries: make(map[string]stamp)}
}

// Clock returns the current Lamport time
func (d *Document) Clock() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock
}

// Local records a local write of key and returns its clock
func (d *Document) Local(key string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock++
	d.entries[key] = stamp{clock: d.clock, origin: d.origin}
	return d.clock
}

// Merge records a remote write of key. It reports false when a later write
// of key is already known, in which case the remote write must be dropped.
func (d *Document) Merge(key string, clock uint64, origin string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if clock > d.clock {
		d.clock = clock
	}
	d.clock++

	incoming := stamp{clock: clock, origin: origin}
	if cur, ok := d.entries[key]; ok && !incoming.after(cur) {
		return false
	}
	d.entries[key] = incoming
	return true
}

func entityKey(kind EntityKind, id string) string {
	return string(kind) + ":" + id
}
