// Package colors assigns Google Calendar event colors to tag groups.
package colors

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Calendar event color ids used outside the rotating palette.
const (
	Tomato    = "11"
	Banana    = "5"
	Graphite  = "8"
	paletteSz = 10
)

type GroupState struct {
	ColorID      string    `json:"color_id"`
	LastModified time.Time `json:"last_modified"`
}

// ColorCache hands out a stable color per tag group. Colors 1 to 10 rotate; when all are
// taken the least recently used group gives up its color.
type ColorCache struct {
	Path   string
	Groups map[string]*GroupState `json:"groups"`
	Now    func() time.Time
	mu     sync.Mutex
	dirty  bool
}

// NewColorCache loads the cache at path. An empty path keeps it in memory only.
func NewColorCache(path string) (*ColorCache, error) {
	cache := &ColorCache{
		Path:   path,
		Groups: make(map[string]*GroupState),
		Now:    time.Now,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cache.Load(); err != nil {
				return nil, err
			}
		}
	}
	return cache, nil
}

func (c *ColorCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&c.Groups); err != nil {
		return err
	}
	if c.Groups == nil {
		c.Groups = make(map[string]*GroupState)
	}
	return nil
}

func (c *ColorCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty || c.Path == "" {
		return nil
	}
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.Create(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	err = json.NewEncoder(f).Encode(c.Groups)
	if err == nil {
		c.dirty = false
	}
	return err
}

// GetColorID returns the color for a tag group. Tasks without tags share Graphite.
func (c *ColorCache) GetColorID(group string) string {
	if group == "" {
		return Graphite
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if state, exists := c.Groups[group]; exists {
		state.LastModified = c.now()
		c.dirty = true
		return state.ColorID
	}
	return c.assignColor(group)
}

func (c *ColorCache) assignColor(group string) string {
	used := make(map[string]bool)
	for _, s := range c.Groups {
		used[s.ColorID] = true
	}

	for i := 1; i <= paletteSz; i++ {
		id := strconv.Itoa(i)
		if !used[id] {
			c.Groups[group] = &GroupState{ColorID: id, LastModified: c.now()}
			c.dirty = true
			return id
		}
	}

	// Palette full: recycle the least recently used group's color.
	var oldest string
	var oldestTime time.Time
	first := true
	for g, s := range c.Groups {
		if first || s.LastModified.Before(oldestTime) {
			oldestTime = s.LastModified
			oldest = g
			first = false
		}
	}

	recycled := c.Groups[oldest].ColorID
	delete(c.Groups, oldest)
	c.Groups[group] = &GroupState{ColorID: recycled, LastModified: c.now()}
	c.dirty = true
	return recycled
}

func (c *ColorCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
