package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, WriteFileAtomic(path, []byte("hello"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Overwrite leaves no temp droppings behind.
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o600))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obj.json")
	in := map[string]int{"a": 1}
	require.NoError(t, WriteJSONAtomic(path, in, 0o644))

	out := map[string]int{}
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out)
	assert.True(t, os.IsNotExist(err))
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return assert.AnError
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(2, time.Millisecond, func() error { calls++; return assert.AnError })
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestWaitUntilReady(t *testing.T) {
	n := 0
	err := WaitUntilReady(time.Second, time.Millisecond, func() (bool, error) {
		n++
		return n >= 3, nil
	})
	assert.NoError(t, err)

	err = WaitUntilReady(50*time.Millisecond, 10*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	assert.ErrorContains(t, err, "time limit")
}
