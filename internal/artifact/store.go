package artifact

import (
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrStaleWrite is returned when an upsert carries a logical time at or
// before the entry already in place, e.g. a duplicate retried step landing
// after a newer write. The newer entry wins; callers log and move on.
var ErrStaleWrite = errors.New("artifact: stale write")

// GeneratedFile is one tracked artifact, keyed by Path. A later write to the
// same path replaces the entry in place rather than duplicating it.
type GeneratedFile struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Size     int       `json:"size"`
	Lines    int       `json:"lines"`
	Content  string    `json:"content"`
	Modified time.Time `json:"modified"`
}

// FileStore is the external persistence capability. Durability and on-disk
// layout are its concern, not the tracker's.
type FileStore interface {
	WriteFile(path, content string) error
	ReadFile(path string) (string, error)
}

// Tracker records generated file artifacts idempotently.
type Tracker struct {
	clock func() time.Time
	store FileStore

	mu    sync.RWMutex
	files map[string]GeneratedFile
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the modification timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(tr *Tracker) {
		if clock != nil {
			tr.clock = clock
		}
	}
}

// WithFileStore attaches a persistence backend. Upserts are written through;
// the in-memory view stays authoritative for reads.
func WithFileStore(store FileStore) Option {
	return func(tr *Tracker) {
		tr.store = store
	}
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	tr := &Tracker{
		clock: func() time.Time { return time.Now().UTC() },
		files: map[string]GeneratedFile{},
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Upsert stores or replaces the artifact at filePath, recomputing size and
// line count from content. The modified timestamp must strictly increase per
// path; a non-advancing clock reading yields ErrStaleWrite and leaves the
// existing entry untouched.
func (tr *Tracker) Upsert(filePath, content, fileType string) (GeneratedFile, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	now := tr.clock()
	if prev, ok := tr.files[filePath]; ok && !now.After(prev.Modified) {
		return prev, ErrStaleWrite
	}
	file := GeneratedFile{
		Path:     filePath,
		Name:     path.Base(filePath),
		Type:     fileType,
		Size:     len(content),
		Lines:    countLines(content),
		Content:  content,
		Modified: now,
	}
	if tr.store != nil {
		if err := tr.store.WriteFile(filePath, content); err != nil {
			return GeneratedFile{}, err
		}
	}
	tr.files[filePath] = file
	return file, nil
}

// Get returns the tracked artifact at filePath.
func (tr *Tracker) Get(filePath string) (GeneratedFile, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	f, ok := tr.files[filePath]
	return f, ok
}

// List returns all artifacts ordered most-recently-modified first.
func (tr *Tracker) List() []GeneratedFile {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]GeneratedFile, 0, len(tr.files))
	for _, f := range tr.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].Path < out[j].Path
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out
}

// Len returns the number of tracked artifacts.
func (tr *Tracker) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.files)
}

// Clear drops every tracked artifact. Used only by reset.
func (tr *Tracker) Clear() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.files = map[string]GeneratedFile{}
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
