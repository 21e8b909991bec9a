// Package memory contains in-memory export sinks for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/aggregator"
	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

// Sink records exported tables and published notices for inspection. It
// satisfies both aggregator.Exporter and aggregator.Notifier.
type Sink struct {
	mu      sync.RWMutex
	tables  []*census.CombinedTable
	notices []aggregator.Notice
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// Name identifies the sink in logs and metrics.
func (*Sink) Name() string {
	return "memory"
}

// Export records the table and returns a pseudo URI.
func (s *Sink) Export(_ context.Context, table *census.CombinedTable, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, table)
	return fmt.Sprintf("memory://%d", len(s.tables)), nil
}

// Notify records the notice.
func (s *Sink) Notify(_ context.Context, notice aggregator.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notice)
	return nil
}

// Tables returns the recorded exports.
func (s *Sink) Tables() []*census.CombinedTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*census.CombinedTable, len(s.tables))
	copy(out, s.tables)
	return out
}

// Notices returns the recorded notices.
func (s *Sink) Notices() []aggregator.Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]aggregator.Notice, len(s.notices))
	copy(out, s.notices)
	return out
}
