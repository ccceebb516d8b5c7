package fsstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/internal/event"
)

func TestWatchEmitsSetOnExternalWrite(t *testing.T) {
	bus := event.New(nil)
	s := newConnected(t, bus)

	seen := make(chan string, 1)
	bus.Connect(event.ClassStoreSetEvent, "watch-test", func(e event.Event) {
		if me, ok := e.(*event.StoreMutationEvent); ok {
			select {
			case seen <- me.Key:
			default:
			}
		}
	})

	w, err := Watch(s)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(s.root, "external.metadata"), []byte("{}"), 0o644))

	select {
	case key := <-seen:
		assert.Equal(t, "external", key)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher to emit Set event")
	}
}
