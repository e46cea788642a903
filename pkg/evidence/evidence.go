package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/windrose-io/windrose/pkg/canonical"
	"github.com/windrose-io/windrose/pkg/log"
)

// Snapshot is the content-addressed record of one planning run: the inputs,
// the model, the solution and the decision that produced it.
type Snapshot struct {
	PlanID    string         `json:"plan_id"`
	Optimodel map[string]any `json:"optimodel,omitempty"`
	Solution  map[string]any `json:"solution,omitempty"`
	Scenarios map[string]any `json:"scenarios,omitempty"`
	Hints     map[string]any `json:"hints,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// GraphEvent is one append-only record of the per-tenant graph log: nodes
// and edges derived from a solution, linked back to the snapshot address.
type GraphEvent struct {
	TenantID  string           `json:"tenant_id"`
	PlanID    string           `json:"plan_id"`
	Address   string           `json:"address"`
	Nodes     []map[string]any `json:"nodes,omitempty"`
	Edges     []map[string]any `json:"edges,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Store persists snapshots content-addressed on disk. A snapshot's address
// is the hex SHA-256 of its canonical JSON; the blob lives at
// <dataDir>/evidence/<first two hex chars>/<address>.json.
type Store struct {
	dir    string
	retain int
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates an evidence store rooted at dataDir. retain bounds the
// number of snapshot blobs kept on disk; 0 disables collection.
func NewStore(dataDir string, retain int) (*Store, error) {
	dir := filepath.Join(dataDir, "evidence")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evidence dir: %w", err)
	}
	return &Store{
		dir:    dir,
		retain: retain,
		logger: log.WithComponent("evidence"),
		now:    time.Now,
	}, nil
}

// WithClock overrides the store clock. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Persist writes the snapshot blob and returns its address. Writing the
// same content twice yields the same address and a single blob.
func (s *Store) Persist(snapshot *Snapshot) (string, error) {
	addr, err := canonical.Hash(snapshot)
	if err != nil {
		return "", fmt.Errorf("hashing snapshot: %w", err)
	}

	blob, err := canonical.Marshal(snapshot)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.dir, addr[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, addr+".json")
	if _, err := os.Stat(path); err == nil {
		return addr, nil // content already present
	}
	if err := os.WriteFile(path, blob, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Debug().Str("address", addr).Str("plan_id", snapshot.PlanID).Msg("Persisted snapshot")
	return addr, nil
}

// Get reads a snapshot back by address.
func (s *Store) Get(address string) (*Snapshot, error) {
	if len(address) < 2 {
		return nil, fmt.Errorf("invalid snapshot address %q", address)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, address[:2], address+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", address, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", address, err)
	}
	return &snapshot, nil
}

// AppendGraphEvent appends one event to the tenant's graph log. The log is
// JSONL, append-only; archival happens outside the core.
func (s *Store) AppendGraphEvent(event *GraphEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, "graph-"+event.TenantID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open graph log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append graph event: %w", err)
	}
	return nil
}

// GraphEvents reads a tenant's full graph log in append order.
func (s *Store) GraphEvents(tenantID string) ([]*GraphEvent, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "graph-"+tenantID+".jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []*GraphEvent
	for _, line := range splitLines(data) {
		var event GraphEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("corrupt graph log for %s: %w", tenantID, err)
		}
		events = append(events, &event)
	}
	return events, nil
}

// GC removes the oldest snapshot blobs beyond the retention bound, by file
// modification time. The graph logs are never collected.
func (s *Store) GC() (int, error) {
	if s.retain <= 0 {
		return 0, nil
	}

	type blob struct {
		path string
		mod  time.Time
	}
	var blobs []blob

	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		blobs = append(blobs, blob{path: path, mod: info.ModTime()})
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(blobs) <= s.retain {
		return 0, nil
	}

	sort.Slice(blobs, func(i, j int) bool { return blobs[i].mod.Before(blobs[j].mod) })

	removed := 0
	for _, b := range blobs[:len(blobs)-s.retain] {
		if err := os.Remove(b.path); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Collected evidence snapshots")
	}
	return removed, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
