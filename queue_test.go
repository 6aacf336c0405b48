package linesync

import (
	"testing"
	"time"

	"github.com/adjustware/linesync/batch"
)

func TestQueueUpsertIdempotent(t *testing.T) {
	q := newSyncQueue()
	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"qty": 2})
	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"qty": 3})
	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"price": 10.0})

	if q.Len() != 1 {
		t.Fatalf("expected 1 entry after repeated upserts, got %d", q.Len())
	}
}

func TestQueueLatestWinsPerField(t *testing.T) {
	q := newSyncQueue()
	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"qty": 2, "price": 10.0})
	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"qty": 5})

	entry, ok := q.Get("line-1")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Fields["qty"] != 5 {
		t.Errorf("qty = %v, want 5", entry.Fields["qty"])
	}
	if entry.Fields["price"] != 10.0 {
		t.Errorf("price = %v, want 10.0 (earlier edit must survive)", entry.Fields["price"])
	}
}

func TestQueueDeleteSupersedesEdit(t *testing.T) {
	q := newSyncQueue()
	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"qty": 2})
	q.Upsert("line-1", batch.OpDelete, nil)

	entry, _ := q.Get("line-1")
	if entry.Op != batch.OpDelete {
		t.Fatalf("op = %s, want delete", entry.Op)
	}
	if entry.Fields != nil {
		t.Errorf("fields should be dropped on delete, got %v", entry.Fields)
	}

	// A later edit revives the line.
	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"qty": 4})
	entry, _ = q.Get("line-1")
	if entry.Op != batch.OpUpdate {
		t.Fatalf("op = %s, want update after revival", entry.Op)
	}
	if entry.Fields["qty"] != 4 {
		t.Errorf("qty = %v, want 4", entry.Fields["qty"])
	}
}

func TestQueueRevisionBumpsOnEveryUpsert(t *testing.T) {
	q := newSyncQueue()
	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"qty": 2})
	q.Upsert("line-2", batch.OpCreate, map[string]interface{}{"qty": 1})

	revs := q.Revisions()
	if revs["line-1"] != 1 || revs["line-2"] != 1 {
		t.Fatalf("fresh entries should start at revision 1, got %v", revs)
	}

	q.Upsert("line-1", batch.OpUpdate, map[string]interface{}{"qty": 3})
	q.Upsert("line-1", batch.OpDelete, nil)

	entry, ok := q.Get("line-1")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Revision != 3 {
		t.Errorf("revision = %d, want 3 after two more upserts", entry.Revision)
	}
	if revs["line-1"] != 1 {
		t.Errorf("earlier snapshot mutated: %v", revs)
	}
}

func TestQueueOrderPreserved(t *testing.T) {
	q := newSyncQueue()
	q.Upsert("b", batch.OpUpdate, nil)
	q.Upsert("a", batch.OpUpdate, nil)
	q.Upsert("c", batch.OpUpdate, nil)
	q.Upsert("a", batch.OpUpdate, nil) // keeps its original position

	ids := q.IDs()
	want := []string{"b", "a", "c"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestQueueRemove(t *testing.T) {
	q := newSyncQueue()
	q.Upsert("a", batch.OpUpdate, nil)
	q.Upsert("b", batch.OpUpdate, nil)
	q.Remove("a")
	q.Remove("missing")

	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	if ids := q.IDs(); ids[0] != "b" {
		t.Errorf("ids = %v, want [b]", ids)
	}
}

func TestQueueEvictOlderThan(t *testing.T) {
	now := time.Now()
	q := newSyncQueue()
	q.now = func() time.Time { return now.Add(-2 * time.Hour) }
	q.Upsert("old", batch.OpUpdate, nil)
	q.now = func() time.Time { return now }
	q.Upsert("fresh", batch.OpUpdate, nil)

	evicted := q.EvictOlderThan(time.Hour)
	if len(evicted) != 1 || evicted[0].LineID != "old" {
		t.Fatalf("evicted = %v, want [old]", evicted)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	if _, ok := q.Get("fresh"); !ok {
		t.Error("fresh entry must survive eviction")
	}
}

func TestQueueItemsCloneFields(t *testing.T) {
	q := newSyncQueue()
	q.Upsert("a", batch.OpUpdate, map[string]interface{}{"qty": 1})

	items := q.Items()
	items[0].Fields["qty"] = 99

	entry, _ := q.Get("a")
	if entry.Fields["qty"] != 1 {
		t.Errorf("queue entry mutated through Items() copy: qty = %v", entry.Fields["qty"])
	}
}
