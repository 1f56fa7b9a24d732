package artifact

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tickingClock() func() time.Time {
	stamp := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		stamp = stamp.Add(time.Second)
		return stamp
	}
}

func TestUpsertComputesMetadata(t *testing.T) {
	tr := NewTracker(WithClock(tickingClock()))
	file, err := tr.Upsert("workspace/add.py", "def add(a, b):\n    return a + b\n", "python")
	require.NoError(t, err)
	assert.Equal(t, "add.py", file.Name)
	assert.Equal(t, 2, file.Lines)
	assert.Equal(t, len("def add(a, b):\n    return a + b\n"), file.Size)
	assert.False(t, file.Modified.IsZero())
}

func TestUpsertIsIdempotentPerPath(t *testing.T) {
	tr := NewTracker(WithClock(tickingClock()))
	_, err := tr.Upsert("workspace/add.py", "v1", "python")
	require.NoError(t, err)
	second, err := tr.Upsert("workspace/add.py", "v2", "python")
	require.NoError(t, err)

	files := tr.List()
	require.Len(t, files, 1, "same path must replace, not duplicate")
	assert.Equal(t, "v2", files[0].Content)
	assert.Equal(t, second.Modified, files[0].Modified)
}

func TestUpsertRejectsStaleWrite(t *testing.T) {
	// A frozen clock simulates a duplicate retried step arriving with a
	// logical time no later than the write already applied.
	frozen := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker(WithClock(func() time.Time { return frozen }))

	_, err := tr.Upsert("workspace/add.py", "first", "python")
	require.NoError(t, err)
	prev, err := tr.Upsert("workspace/add.py", "dup", "python")
	require.ErrorIs(t, err, ErrStaleWrite)
	assert.Equal(t, "first", prev.Content, "existing entry must win")

	got, ok := tr.Get("workspace/add.py")
	require.True(t, ok)
	assert.Equal(t, "first", got.Content)
}

func TestListOrdersByModifiedDescending(t *testing.T) {
	tr := NewTracker(WithClock(tickingClock()))
	_, err := tr.Upsert("a.py", "a", "python")
	require.NoError(t, err)
	_, err = tr.Upsert("b.py", "b", "python")
	require.NoError(t, err)
	_, err = tr.Upsert("a.py", "a2", "python")
	require.NoError(t, err)

	files := tr.List()
	require.Len(t, files, 2)
	assert.Equal(t, "a.py", files[0].Path, "most recently modified first")
	assert.Equal(t, "b.py", files[1].Path)
}

func TestTrackerWritesThroughFileStore(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "files.db"))
	require.NoError(t, err)
	defer store.Close()

	tr := NewTracker(WithClock(tickingClock()), WithFileStore(store))
	_, err = tr.Upsert("workspace/add.py", "def add(a, b):\n    return a + b\n", "python")
	require.NoError(t, err)

	content, err := store.ReadFile("workspace/add.py")
	require.NoError(t, err)
	assert.Contains(t, content, "return a + b")

	_, err = store.ReadFile("workspace/missing.py")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"one line", 1},
		{"line\n", 1},
		{"a\nb\nc", 3},
		{"a\nb\n", 2},
	}
	for _, tt := range tests {
		if got := countLines(tt.content); got != tt.want {
			t.Errorf("countLines(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}
