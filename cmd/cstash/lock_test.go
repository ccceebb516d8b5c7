package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/internal/filelock"
)

func TestLockAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.lock")
	l := filelock.New(path)
	ok, err := l.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, l.Locked())
	require.NoError(t, l.Release())
	assert.False(t, l.Locked())
}

func TestLockStatusOnAbsentPathIsUnlocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-created.lock")
	l := filelock.New(path)
	assert.False(t, l.Locked())
	_, hasPID := filelock.HolderPID(path)
	assert.False(t, hasPID)
}
