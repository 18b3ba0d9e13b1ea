package database

import (
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// HistoryRecord pairs a source path with its history entry
type HistoryRecord struct {
	Source string              `json:"source"`
	Entry  models.HistoryEntry `json:"entry"`
}

// HistoryRepository keeps the render history keyed by source path
type HistoryRepository struct {
	doc     *Document
	mu      sync.RWMutex
	entries map[string]models.HistoryEntry
}

// NewHistoryRepository creates a repository backed by path
func NewHistoryRepository(path string, logger *logging.Logger) *HistoryRepository {
	return &HistoryRepository{
		doc:     NewDocument("history", path, logger),
		entries: map[string]models.HistoryEntry{},
	}
}

// Load reads the history file. An unreadable file leaves the history
// empty and the error is returned for reporting only.
func (r *HistoryRepository) Load() error {
	entries := map[string]models.HistoryEntry{}
	_, err := r.doc.Load(&entries)
	if err != nil || entries == nil {
		entries = map[string]models.HistoryEntry{}
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return err
}

// Get returns the entry for a source path
func (r *HistoryRepository) Get(source string) (models.HistoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[source]
	return e, ok
}

// Put records an entry and rewrites the whole file
func (r *HistoryRepository) Put(source string, entry models.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[source] = entry
	return r.doc.Save(r.entries)
}

// List returns all records, oldest first
func (r *HistoryRepository) List() []HistoryRecord {
	r.mu.RLock()
	records := make([]HistoryRecord, 0, len(r.entries))
	for src, e := range r.entries {
		records = append(records, HistoryRecord{Source: src, Entry: e})
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Entry.Timestamp != records[j].Entry.Timestamp {
			return records[i].Entry.Timestamp < records[j].Entry.Timestamp
		}
		return records[i].Source < records[j].Source
	})
	return records
}

// Len returns the number of entries
func (r *HistoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
