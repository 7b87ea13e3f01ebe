// Package candidatestore persists per-word acceptance counts in sqlite so
// the popup's candidate list can be frequency-ranked across engine
// restarts. It never originates or filters candidates: the engine remains
// the sole source of truth for what's offered, this only reorders an
// already-provided list and records which entry got accepted.
package candidatestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS candidate_usage (
    word      TEXT PRIMARY KEY,
    count     INTEGER NOT NULL DEFAULT 0,
    last_used INTEGER NOT NULL
);
`

// Store wraps the candidate_usage table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the sqlite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("candidatestore: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("candidatestore: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("candidatestore: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record increments a word's acceptance count, called when a candidate is
// committed while selected. A database failure is returned as an error;
// logging it is the caller's job, and the only loss is that ranking
// update.
func (s *Store) Record(word string, when time.Time) error {
	if word == "" {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO candidate_usage (word, count, last_used)
		VALUES (?, 1, ?)
		ON CONFLICT(word) DO UPDATE SET count = count + 1, last_used = excluded.last_used`,
		word, when.Unix(),
	)
	if err != nil {
		return fmt.Errorf("candidatestore: record %q: %w", word, err)
	}
	return nil
}

// Usage returns the recorded count for word, or 0 if it has never been
// accepted.
func (s *Store) Usage(word string) uint64 {
	var count uint64
	err := s.db.QueryRow(`SELECT count FROM candidate_usage WHERE word = ?`, word).Scan(&count)
	if err != nil {
		return 0
	}
	return count
}

// Rank reorders candidates by (usage desc, original order), leaving the
// list untouched when the store has no usage data for any of them —
// display order is the only thing this ever changes, never content.
func (s *Store) Rank(candidates []string) []string {
	if s == nil || len(candidates) == 0 {
		return candidates
	}

	usage := make([]uint64, len(candidates))
	anyUsage := false
	for i, c := range candidates {
		usage[i] = s.Usage(c)
		if usage[i] > 0 {
			anyUsage = true
		}
	}
	if !anyUsage {
		return candidates
	}

	ranked := make([]string, len(candidates))
	copy(ranked, candidates)
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return usage[order[a]] > usage[order[b]]
	})
	for i, idx := range order {
		ranked[i] = candidates[idx]
	}
	return ranked
}
