package linesync

import (
	"time"

	"github.com/adjustware/linesync/batch"
)

// PendingChange is one line's outstanding unsynced edit. Repeated edits to
// the same line collapse into a single entry, latest value winning per field.
// Revision increments on every Upsert so a flush can tell whether the entry
// it snapshotted was refilled while the flush was in flight.
type PendingChange struct {
	LineID     string
	Op         batch.OpType
	Fields     map[string]interface{}
	EnqueuedAt time.Time
	RetryCount int
	Revision   int
}

// syncQueue tracks lines with unsynced edits. Membership is idempotent and
// insertion order is preserved so flushes submit edits in the order the user
// made them. The engine owns the queue; all access happens under its lock.
type syncQueue struct {
	order   []string
	entries map[string]*PendingChange
	now     func() time.Time
}

func newSyncQueue() *syncQueue {
	return &syncQueue{
		entries: make(map[string]*PendingChange),
		now:     time.Now,
	}
}

// Upsert records an edit. A line already pending keeps its queue position and
// enqueue time; its fields are merged with the new edit winning per field.
// A delete supersedes any pending create/update for the same line.
func (q *syncQueue) Upsert(lineID string, op batch.OpType, fields map[string]interface{}) {
	entry, ok := q.entries[lineID]
	if !ok {
		q.order = append(q.order, lineID)
		q.entries[lineID] = &PendingChange{
			LineID:     lineID,
			Op:         op,
			Fields:     cloneFields(fields),
			EnqueuedAt: q.now(),
			Revision:   1,
		}
		return
	}

	entry.Revision++
	if op == batch.OpDelete {
		entry.Op = batch.OpDelete
		entry.Fields = nil
		return
	}
	// An edit after a pending delete revives the line.
	if entry.Op == batch.OpDelete {
		entry.Op = op
		entry.Fields = cloneFields(fields)
		return
	}
	if entry.Fields == nil {
		entry.Fields = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		entry.Fields[k] = v
	}
}

// Get returns the pending entry for a line, if any.
func (q *syncQueue) Get(lineID string) (*PendingChange, bool) {
	entry, ok := q.entries[lineID]
	return entry, ok
}

// Remove evicts a line from the queue. Removing an absent id is a no-op.
func (q *syncQueue) Remove(lineID string) {
	if _, ok := q.entries[lineID]; !ok {
		return
	}
	delete(q.entries, lineID)
	for i, id := range q.order {
		if id == lineID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *syncQueue) Len() int {
	return len(q.entries)
}

// IDs returns the pending line ids in insertion order.
func (q *syncQueue) IDs() []string {
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

// Items builds the bulk items for a flush, in insertion order.
func (q *syncQueue) Items() []batch.Item {
	items := make([]batch.Item, 0, len(q.order))
	for _, id := range q.order {
		entry := q.entries[id]
		items = append(items, batch.Item{
			Key:    entry.LineID,
			Op:     entry.Op,
			Fields: cloneFields(entry.Fields),
		})
	}
	return items
}

// Revisions snapshots the current revision of every pending entry.
func (q *syncQueue) Revisions() map[string]int {
	out := make(map[string]int, len(q.entries))
	for id, entry := range q.entries {
		out[id] = entry.Revision
	}
	return out
}

// EvictOlderThan discards entries enqueued longer than maxAge ago and returns
// the evicted changes. Bounds queue growth from abandoned edits.
func (q *syncQueue) EvictOlderThan(maxAge time.Duration) []*PendingChange {
	cutoff := q.now().Add(-maxAge)
	var evicted []*PendingChange
	for _, id := range q.IDs() {
		entry := q.entries[id]
		if entry.EnqueuedAt.Before(cutoff) {
			evicted = append(evicted, entry)
			q.Remove(id)
		}
	}
	return evicted
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
