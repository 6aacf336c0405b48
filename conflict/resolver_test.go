package conflict

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolvedCapture struct {
	mu      sync.Mutex
	records []Record
	results []Resolution
	winners []map[string]interface{}
}

func (c *resolvedCapture) callback() func(Record, Resolution, map[string]interface{}) {
	return func(rec Record, res Resolution, winning map[string]interface{}) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.records = append(c.records, rec)
		c.results = append(c.results, res)
		c.winners = append(c.winners, winning)
	}
}

func (c *resolvedCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func TestSubmit_AutoMergeShortCircuits(t *testing.T) {
	r := NewResolver()
	defer r.Close()

	base := map[string]interface{}{"qty": 1.0, "price": 100.0}
	server := map[string]interface{}{"qty": 1.0, "price": 100.0}
	client := map[string]interface{}{"qty": 5.0, "price": 100.0}

	merged, record, err := r.Submit("l1", server, client, base, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, record, "clean merges must not create a record")
	assert.Equal(t, 5.0, merged["qty"])
	assert.Empty(t, r.Pending())
}

func TestSubmit_EscalatesRealConflict(t *testing.T) {
	var escalated []*Record
	r := NewResolver(OnEscalated(func(rec *Record) {
		escalated = append(escalated, rec)
	}))
	defer r.Close()

	base := map[string]interface{}{"price": 100.0}
	server := map[string]interface{}{"price": 110.0}
	client := map[string]interface{}{"price": 120.0}

	merged, record, err := r.Submit("l1", server, client, base, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, merged)
	require.NotNil(t, record)
	assert.Equal(t, []string{"price"}, record.ConflictingFields)
	require.Len(t, escalated, 1)
	assert.Equal(t, record.ID, escalated[0].ID)
	assert.Len(t, r.Pending(), 1)
}

func TestResolve_MergedClearsRecord(t *testing.T) {
	capture := &resolvedCapture{}
	r := NewResolver(OnResolved(capture.callback()))
	defer r.Close()

	base := map[string]interface{}{"price": 100.0}
	_, record, err := r.Submit("l1",
		map[string]interface{}{"price": 110.0},
		map[string]interface{}{"price": 120.0},
		base, time.Now(), time.Now())
	require.NoError(t, err)
	require.NotNil(t, record)

	winning, err := r.Resolve(record.ID, Resolution{
		Outcome: OutcomeMerged,
		Data:    map[string]interface{}{"price": 115.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 115.0, winning["price"])
	assert.Empty(t, r.Pending(), "resolved records must be discarded")

	require.Equal(t, 1, capture.count())
	assert.Equal(t, OutcomeMerged, capture.results[0].Outcome)
}

func TestResolve_MergedRequiresData(t *testing.T) {
	r := NewResolver()
	defer r.Close()

	_, record, err := r.Submit("l1",
		map[string]interface{}{"price": 110.0},
		map[string]interface{}{"price": 120.0},
		nil, time.Now(), time.Now())
	require.NoError(t, err)

	_, err = r.Resolve(record.ID, Resolution{Outcome: OutcomeMerged})
	assert.Error(t, err)
	assert.Len(t, r.Pending(), 1, "failed resolution must leave the record outstanding")
}

func TestResolve_ClientOutcome(t *testing.T) {
	r := NewResolver()
	defer r.Close()

	_, record, err := r.Submit("l1",
		map[string]interface{}{"price": 110.0},
		map[string]interface{}{"price": 120.0},
		nil, time.Now(), time.Now())
	require.NoError(t, err)

	winning, err := r.Resolve(record.ID, Resolution{Outcome: OutcomeClient})
	require.NoError(t, err)
	assert.Equal(t, 120.0, winning["price"])
}

func TestResolve_UnknownRecord(t *testing.T) {
	r := NewResolver()
	defer r.Close()

	_, err := r.Resolve("nope", Resolution{Outcome: OutcomeServer})
	assert.Error(t, err)
}

func TestTimeout_ResolvesToServer(t *testing.T) {
	capture := &resolvedCapture{}
	r := NewResolver(
		WithTimeout(20*time.Millisecond),
		OnResolved(capture.callback()),
	)
	defer r.Close()

	_, record, err := r.Submit("l1",
		map[string]interface{}{"price": 110.0},
		map[string]interface{}{"price": 120.0},
		nil, time.Now(), time.Now())
	require.NoError(t, err)
	require.NotNil(t, record)

	require.Eventually(t, func() bool { return capture.count() == 1 },
		time.Second, 5*time.Millisecond)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.Equal(t, OutcomeServer, capture.results[0].Outcome)
	assert.Equal(t, 110.0, capture.winners[0]["price"])
	assert.Empty(t, r.Pending())
}

func TestResolve_CancelsTimer(t *testing.T) {
	capture := &resolvedCapture{}
	r := NewResolver(
		WithTimeout(30*time.Millisecond),
		OnResolved(capture.callback()),
	)
	defer r.Close()

	_, record, err := r.Submit("l1",
		map[string]interface{}{"price": 110.0},
		map[string]interface{}{"price": 120.0},
		nil, time.Now(), time.Now())
	require.NoError(t, err)

	_, err = r.Resolve(record.ID, Resolution{Outcome: OutcomeClient})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, capture.count(), "timeout must not fire after explicit resolution")
}

func TestCancelAll(t *testing.T) {
	capture := &resolvedCapture{}
	r := NewResolver(OnResolved(capture.callback()))
	defer r.Close()

	for _, id := range []string{"l1", "l2", "l3"} {
		_, record, err := r.Submit(id,
			map[string]interface{}{"price": 110.0},
			map[string]interface{}{"price": 120.0},
			nil, time.Now(), time.Now())
		require.NoError(t, err)
		require.NotNil(t, record)
	}

	n := r.CancelAll()
	assert.Equal(t, 3, n)
	assert.Empty(t, r.Pending())

	require.Equal(t, 3, capture.count())
	for i, res := range capture.results {
		assert.Equal(t, OutcomeCancelled, res.Outcome)
		assert.Equal(t, 110.0, capture.winners[i]["price"], "cancel resolves to the server version")
	}
}
