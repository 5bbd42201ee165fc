package cooldown

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Entry struct {
	Summary  string    `json:"summary"`
	LastSent time.Time `json:"last_sent"`
}

// Table tracks when each task identity was last notified. It lives in memory; when Path is
// set it can also be loaded from and saved to a JSON file.
type Table struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`
	mu      sync.Mutex
	dirty   bool
}

// NewTable creates a table. An empty path keeps the table in memory only.
func NewTable(path string) (*Table, error) {
	t := &Table{
		Path:    path,
		Entries: make(map[string]Entry),
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := t.Load(); err != nil {
				return nil, err
			}
		}
	}

	return t, nil
}

func (t *Table) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.Open(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(t); err != nil {
		return err
	}
	if t.Entries == nil {
		t.Entries = make(map[string]Entry)
	}
	return nil
}

func (t *Table) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Path == "" || !t.dirty {
		return nil
	}
	dir := filepath.Dir(t.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.Create(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(t)
	if err == nil {
		t.dirty = false
	}
	return err
}

// Ready reports whether key may be notified at now: it was never notified, or at least
// cooldown has elapsed since the last notification.
func (t *Table) Ready(key string, now time.Time, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, exists := t.Entries[key]
	if !exists {
		return true
	}
	return now.Sub(entry.LastSent) >= cooldown
}

// Mark records a notification for key at now.
func (t *Table) Mark(key string, summary string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Entries[key] = Entry{Summary: summary, LastSent: now}
	t.dirty = true
}

func (t *Table) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.Entries[key]; exists {
		delete(t.Entries, key)
		t.dirty = true
	}
}

// Evict drops entries last notified more than maxAge before now and returns their keys.
// A non-positive maxAge disables eviction.
func (t *Table) Evict(now time.Time, maxAge time.Duration) []string {
	if maxAge <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []string
	for key, entry := range t.Entries {
		if now.Sub(entry.LastSent) > maxAge {
			evicted = append(evicted, key)
			delete(t.Entries, key)
			t.dirty = true
		}
	}
	return evicted
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Entries)
}
