package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/andywolf/agentorch/internal/model"
)

// AppendKnowledgeEntry records e. KnowledgeEntry is monotonic and never
// mutated after write, so the backing store is a single append-only JSONL
// file rather than one-file-per-record.
func (s *Store) AppendKnowledgeEntry(e model.KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSONLAtomic(s.path("knowledge.jsonl"), e)
}

// ListKnowledgeEntries returns every recorded entry in write order.
func (s *Store) ListKnowledgeEntries() ([]model.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readJSONL[model.KnowledgeEntry](s.path("knowledge.jsonl"))
}

// AppendPerformanceRecord records r. Like KnowledgeEntry, performance
// history is append-only: later ticket attempts never retroactively alter
// an earlier one's outcome.
func (s *Store) AppendPerformanceRecord(r model.PerformanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSONLAtomic(s.path("performance.jsonl"), r)
}

// ListPerformanceRecords returns every recorded outcome in write order.
func (s *Store) ListPerformanceRecords() ([]model.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readJSONL[model.PerformanceRecord](s.path("performance.jsonl"))
}

// ListPerformanceRecordsByAgent filters ListPerformanceRecords to one
// agent, the shape the Coding-Agent Registry's priority ranking consumes.
func (s *Store) ListPerformanceRecordsByAgent(agentID string) ([]model.PerformanceRecord, error) {
	all, err := s.ListPerformanceRecords()
	if err != nil {
		return nil, err
	}
	var out []model.PerformanceRecord
	for _, r := range all {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []T
	scanner := bufio.NewScanner(f)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			continue // a half-written trailing line from a crash is skipped, not fatal
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", path, err)
	}
	return out, nil
}
