// SPDX-License-Identifier: MIT

package seen

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// localFile is the JSON fallback: {path: last_seen_epoch}. It survives
// restarts and redis outages on the same host.
type localFile struct {
	path string
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]int64
	loaded  bool
}

func newLocalFile(path string, ttl time.Duration) *localFile {
	return &localFile{path: path, ttl: ttl, entries: make(map[string]int64)}
}

func (l *localFile) loadLocked() {
	if l.loaded {
		return
	}
	l.loaded = true
	data, err := os.ReadFile(l.path)
	if err != nil {
		return // absent or unreadable: start empty
	}
	var entries map[string]int64
	if err := json.Unmarshal(data, &entries); err != nil {
		return // corrupt state file: start empty rather than fail the sweep
	}
	l.entries = entries
}

func (l *localFile) contains(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	ts, ok := l.entries[path]
	if !ok {
		return false
	}
	return time.Since(time.Unix(ts, 0)) < l.ttl
}

func (l *localFile) mark(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	l.entries[path] = time.Now().Unix()
	return l.persistLocked()
}

func (l *localFile) purgeExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()

	changed := false
	for p, ts := range l.entries {
		if time.Since(time.Unix(ts, 0)) >= l.ttl {
			delete(l.entries, p)
			changed = true
		}
	}
	if changed {
		_ = l.persistLocked()
	}
}

func (l *localFile) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(l.path, data, 0o644)
}
