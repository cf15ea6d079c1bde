package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]Event
	fail    bool
}

func (m *memStorage) WriteBatch(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db down")
	}
	cp := make([]Event, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return nil
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

type gauge struct{ last float64 }

func (g *gauge) Set(v float64) { g.last = v }

func TestJournalDrainsOnStop(t *testing.T) {
	store := &memStorage{}
	j := NewJournal(store, 1000, time.Hour, zap.NewNop())
	j.Start()

	for i := 0; i < 250; i++ {
		j.Log(Event{Action: ActionAuthorize, AgentID: "agent_a", Outcome: "approved"})
	}
	j.Stop()

	assert.Equal(t, 250, store.total())
	require.NotEmpty(t, store.batches)
	for _, b := range store.batches {
		assert.LessOrEqual(t, len(b), batchSize)
	}
	assert.NotEmpty(t, store.batches[0][0].ID)
	assert.False(t, store.batches[0][0].Timestamp.IsZero())
}

func TestJournalFlushesOnTicker(t *testing.T) {
	store := &memStorage{}
	g := &gauge{last: -1}
	j := NewJournal(store, 10, 20*time.Millisecond, zap.NewNop()).WithGauge(g)
	j.Start()
	defer j.Stop()

	j.Log(Event{Action: ActionBlock})
	assert.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 10*time.Millisecond)
}

func TestJournalDropsAfterStop(t *testing.T) {
	store := &memStorage{}
	j := NewJournal(store, 10, time.Hour, zap.NewNop())
	j.Start()
	j.Stop()
	j.Stop()

	j.Log(Event{Action: ActionDeny})
	assert.Equal(t, 0, store.total())
}

func TestJournalSurvivesStorageFailure(t *testing.T) {
	store := &memStorage{fail: true}
	j := NewJournal(store, 10, time.Hour, zap.NewNop())
	j.Start()
	j.Log(Event{Action: ActionComplete})
	j.Stop()
	assert.Equal(t, 0, store.total())
}
