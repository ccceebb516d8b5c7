package urlstore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
)

func newStaticServer(t *testing.T, index map[string]map[string]interface{}, data map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(index)
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/data/")
		body, ok := data[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStaticGetReturnsDataAndMetadata(t *testing.T) {
	srv := newStaticServer(t,
		map[string]map[string]interface{}{"a": {"kind": "x"}},
		map[string]string{"a": "hello"},
	)
	s := New(nil, srv.URL, "/data/", "/index", 0)
	require.NoError(t, s.Connect(nil))
	t.Cleanup(func() { s.Disconnect() })

	v, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"kind": "x"}, v.Metadata())

	data, err := s.GetData("a")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStaticGetMissingKeyFails(t *testing.T) {
	srv := newStaticServer(t, map[string]map[string]interface{}{}, nil)
	s := New(nil, srv.URL, "/data/", "/index", 0)
	require.NoError(t, s.Connect(nil))
	t.Cleanup(func() { s.Disconnect() })

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, errs.ErrKeyMissing)
}

func TestStaticWritesAreRejected(t *testing.T) {
	srv := newStaticServer(t, map[string]map[string]interface{}{}, nil)
	s := New(nil, srv.URL, "/data/", "/index", 0)
	require.NoError(t, s.Connect(nil))
	t.Cleanup(func() { s.Disconnect() })

	assert.ErrorIs(t, s.SetData("a", []byte("x"), 0), ErrReadOnly)
	assert.ErrorIs(t, s.Delete("a"), ErrReadOnly)
	assert.ErrorIs(t, s.SetMetadata("a", nil), ErrReadOnly)
}

func TestStaticQueryFiltersByMetadata(t *testing.T) {
	srv := newStaticServer(t,
		map[string]map[string]interface{}{
			"a": {"kind": "x"},
			"b": {"kind": "y"},
		},
		map[string]string{"a": "1", "b": "2"},
	)
	s := New(nil, srv.URL, "/data/", "/index", 0)
	require.NoError(t, s.Connect(nil))
	t.Cleanup(func() { s.Disconnect() })

	results, err := s.Query(nil, store.Match{"kind": "y"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Key)
}

func TestStaticPollEmitsSetAndDeleteEvents(t *testing.T) {
	var idxMu sync.Mutex
	idx := map[string]map[string]interface{}{"a": {"v": float64(1)}}

	mux := http.NewServeMux()
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		idxMu.Lock()
		defer idxMu.Unlock()
		_ = json.NewEncoder(w).Encode(idx)
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	bus := event.New(nil)
	var classesMu sync.Mutex
	var classes []string
	bus.Connect(event.ClassStoreMutationEvent, "w", func(e event.Event) {
		classesMu.Lock()
		classes = append(classes, e.Class().Name())
		classesMu.Unlock()
	})

	s := New(bus, srv.URL, "/data/", "/index", 20*time.Millisecond)
	require.NoError(t, s.Connect(nil))
	t.Cleanup(func() { s.Disconnect() })

	idxMu.Lock()
	delete(idx, "a")
	idx["b"] = map[string]interface{}{"v": float64(2)}
	idxMu.Unlock()

	require.Eventually(t, func() bool {
		classesMu.Lock()
		defer classesMu.Unlock()
		return len(classes) >= 2
	}, time.Second, 10*time.Millisecond)

	classesMu.Lock()
	defer classesMu.Unlock()
	assert.Contains(t, classes, "StoreDeleteEvent")
	assert.Contains(t, classes, "StoreSetEvent")
}
