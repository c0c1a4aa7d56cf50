package store

import (
	"sort"
	"sync"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

// Memory is a process-local backend. It keeps the committed snapshot so a manager can be
// rebuilt from it.
type Memory struct {
	mu       sync.Mutex
	snapshot *flux.Snapshot
	statuses map[string]flux.OracleStatus
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		snapshot: flux.NewSnapshot(),
		statuses: make(map[string]flux.OracleStatus),
	}
}

// Load implements flux.Backend.
func (m *Memory) Load() (*flux.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Clone(), nil
}

// Commit implements flux.Backend.
func (m *Memory) Commit(cs *flux.ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Apply(cs)
	for _, s := range cs.Statuses {
		m.statuses[s.OracleID] = s
	}
	return nil
}

// LoadStatuses returns all persisted oracle statuses ordered by oracle id.
func (m *Memory) LoadStatuses() ([]flux.OracleStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]flux.OracleStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OracleID < out[j].OracleID })
	return out, nil
}

// PutStatus persists an oracle status.
func (m *Memory) PutStatus(status flux.OracleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.OracleID] = status
	return nil
}

// DeleteStatus forgets an oracle status.
func (m *Memory) DeleteStatus(oracleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, oracleID)
	return nil
}
