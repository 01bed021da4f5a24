package audit

import (
	"context"
	"sync"

	"github.com/torvus-labs/torvus-console/pkg/identity"
)

// MemorySink keeps entries in memory. Workflow tests use it to assert on
// what was recorded.
type MemorySink struct {
	mu      sync.Mutex
	entries []RecordedEntry
}

// RecordedEntry is an entry plus the actor that was in the context
type RecordedEntry struct {
	Entry
	ActorID string
}

var _ Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Log(ctx context.Context, e Entry) {
	actor := ""
	if id, ok := identity.Get(ctx); ok && id != nil {
		actor = id.PrincipalID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, RecordedEntry{Entry: e, ActorID: actor})
}

// Entries returns a copy of everything recorded so far
func (m *MemorySink) Entries() []RecordedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Actions returns the recorded action names in order
func (m *MemorySink) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

// Count returns how many entries carry action
func (m *MemorySink) Count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
