// Package ops implements the project-memory operations the facade table
// maps to: append-only records (decisions, issues, wishes, friction,
// crits, learnings), search over them, and a lightweight experiment log.
//
// Storage is deliberately trivial: newline-delimited JSON per record
// kind under <root>/records, plus one JSON file per experiment. The
// dispatch core treats these handlers as opaque collaborators.
package ops

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind is one append-only record category.
type Kind string

const (
	KindDecision Kind = "decision"
	KindIssue    Kind = "issue"
	KindWish     Kind = "wish"
	KindFriction Kind = "friction"
	KindCrit     Kind = "crit"
	KindLearning Kind = "learning"
)

// idPrefixes maps each kind to its sequential-ID prefix.
var idPrefixes = map[Kind]string{
	KindDecision: "DEC",
	KindIssue:    "ISS",
	KindWish:     "WISH",
	KindFriction: "FRIC",
	KindCrit:     "CRIT",
	KindLearning: "LEARN",
}

// allKinds in listing order.
var allKinds = []Kind{KindDecision, KindIssue, KindWish, KindFriction, KindCrit, KindLearning}

// Record is one stored project-memory entry.
type Record struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the file-backed record store. Safe for concurrent use within
// one process; the daemon's singleton lock guarantees one process per
// root.
type Store struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	counts map[Kind]int // cached line counts for ID assignment
}

// NewStore opens (creating if needed) the record store under root.
func NewStore(root string, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}
	dir := filepath.Join(root, "records")
	if err := os.MkdirAll(filepath.Join(dir, "experiments"), 0o755); err != nil {
		return nil, fmt.Errorf("ops: create record dir: %w", err)
	}
	return &Store{dir: dir, now: now, counts: make(map[Kind]int)}, nil
}

// Dir returns the store's records directory.
func (s *Store) Dir() string { return s.dir }

// Append writes a new record of the given kind and returns it with its
// assigned sequential ID.
func (s *Store) Append(kind Kind, rec Record) (Record, error) {
	prefix, ok := idPrefixes[kind]
	if !ok {
		return Record{}, fmt.Errorf("ops: unknown record kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.nextSeqLocked(kind)
	if err != nil {
		return Record{}, err
	}

	rec.ID = fmt.Sprintf("%s-%04d", prefix, seq)
	rec.Kind = kind
	rec.CreatedAt = s.now().UTC()

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("ops: marshal record: %w", err)
	}

	f, err := os.OpenFile(s.kindPath(kind), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("ops: open %s store: %w", kind, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("ops: append %s record: %w", kind, err)
	}
	s.counts[kind] = seq
	return rec, nil
}

// Recent returns up to limit records across all kinds, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	var all []Record
	for _, kind := range allKinds {
		recs, err := s.readAll(kind)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Search returns up to limit records whose title, body, or tags contain
// q, case-insensitively, newest first.
func (s *Store) Search(q string, limit int) ([]Record, error) {
	needle := strings.ToLower(q)
	recent, err := s.Recent(0)
	if err != nil {
		return nil, err
	}
	var hits []Record
	for _, rec := range recent {
		if recordMatches(rec, needle) {
			hits = append(hits, rec)
			if limit > 0 && len(hits) >= limit {
				break
			}
		}
	}
	return hits, nil
}

func recordMatches(rec Record, needle string) bool {
	if strings.Contains(strings.ToLower(rec.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(rec.Body), needle) {
		return true
	}
	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func (s *Store) kindPath(kind Kind) string {
	return filepath.Join(s.dir, string(kind)+"s.jsonl")
}

// nextSeqLocked returns the next sequential number for kind, counting
// existing lines on first use.
func (s *Store) nextSeqLocked(kind Kind) (int, error) {
	if n, ok := s.counts[kind]; ok && n > 0 {
		return n + 1, nil
	}
	recs, err := s.readAll(kind)
	if err != nil {
		return 0, err
	}
	return len(recs) + 1, nil
}

func (s *Store) readAll(kind Kind) ([]Record, error) {
	f, err := os.Open(s.kindPath(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ops: open %s store: %w", kind, err)
	}
	defer f.Close()

	var recs []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// A torn trailing line from a hard crash is skipped, not fatal.
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ops: scan %s store: %w", kind, err)
	}
	return recs, nil
}
