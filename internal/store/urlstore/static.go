package urlstore

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/txn"
	"github.com/corestash/corestash/internal/value"
)

// Static is a read-only store backed by a polled JSON metadata index
// and plain GETs for data, grounded on
// original_source/encore/storage/static_url_store.py (the py3 rewrite
// of http_store.py's HTTPStore, which this follows for the polling and
// diff-events behavior http_store.py spells out in more detail).
type Static struct {
	store.Base

	client       *http.Client
	rootURL      string
	dataPath     string
	queryPath    string
	pollInterval time.Duration

	mu        sync.RWMutex
	index     map[string]map[string]interface{}
	haveIndex bool

	stop chan struct{}
	done chan struct{}
}

// New constructs a Static store. rootURL is the server's base URL;
// dataPath and queryPath are appended to it (plus the escaped key, for
// dataPath) to build the data-fetch and index-fetch URLs. A zero
// pollInterval disables background polling — the index is fetched once,
// at Connect, and never refreshed.
func New(bus *event.Bus, rootURL, dataPath, queryPath string, pollInterval time.Duration) *Static {
	s := &Static{rootURL: rootURL, dataPath: dataPath, queryPath: queryPath, pollInterval: pollInterval, client: http.DefaultClient}
	s.Base = store.NewBase(bus, s)
	return s
}

func (s *Static) Info() store.Info { return store.Info{Readonly: true} }

// Connect fetches the index once, then — if pollInterval is set —
// starts a background goroutine that refreshes it on that interval
// until Disconnect (original_source's _poll thread).
func (s *Static) Connect(credentials interface{}) error {
	if c, ok := credentials.(*http.Client); ok && c != nil {
		s.client = c
	}
	if err := s.refreshIndex(); err != nil {
		return err
	}
	s.MarkConnected()

	if s.pollInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.pollLoop()
	}
	return nil
}

func (s *Static) Disconnect() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop, s.done = nil, nil
	}
	s.MarkDisconnected()
	return nil
}

func (s *Static) pollLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// A failed poll keeps the previous index and is not
			// surfaced anywhere — original_source's background thread
			// behaves the same way, logging and continuing.
			_ = s.refreshIndex()
		}
	}
}

// refreshIndex fetches and decodes the index with a bounded retry
// budget, then diffs it against the previous index to emit
// Set/Update/Delete events. The very first successful fetch never
// diffs, matching original_source's "if old_index is not None" guard.
func (s *Static) refreshIndex() error {
	var body []byte
	fetch := func() error {
		resp, err := s.client.Get(s.rootURL + s.queryPath)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("urlstore: query %s: %s", s.queryPath, resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = data
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(fetch, policy); err != nil {
		return err
	}

	var next map[string]map[string]interface{}
	if err := json.Unmarshal(body, &next); err != nil {
		return err
	}

	s.mu.Lock()
	prev, hadIndex := s.index, s.haveIndex
	s.index, s.haveIndex = next, true
	s.mu.Unlock()

	if hadIndex {
		s.diffAndEmit(prev, next)
	}
	return nil
}

func (s *Static) diffAndEmit(prev, next map[string]map[string]interface{}) {
	for key, metadata := range prev {
		if _, ok := next[key]; !ok {
			s.EmitDelete(key, metadata)
		}
	}
	for key, metadata := range next {
		old, existed := prev[key]
		if !existed {
			s.EmitSet(key, metadata, false)
		} else if !reflect.DeepEqual(old, metadata) {
			s.EmitSet(key, metadata, true)
		}
	}
}

func (s *Static) lookup(key string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.index[key]
	return md, ok
}

func (s *Static) Get(key string) (value.Value, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	md, ok := s.lookup(key)
	if !ok {
		return nil, errs.ErrKeyMissing
	}
	dataURL := s.rootURL + s.dataPath + escapeKey(key)
	return value.NewURLValue(dataURL, copyMD(md), s.client), nil
}

func (s *Static) Exists(key string) bool {
	_, ok := s.lookup(key)
	return ok
}

func (s *Static) GetData(key string) ([]byte, error) { return store.DefaultGetData(s, key) }
func (s *Static) GetDataRange(key string, start, end int64) ([]byte, error) {
	return store.DefaultGetDataRange(s, key, start, end)
}

func (s *Static) GetMetadata(key string, sel []string) (map[string]interface{}, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	md, ok := s.lookup(key)
	if !ok {
		return nil, errs.ErrKeyMissing
	}
	return selectStatic(md, sel), nil
}

func selectStatic(metadata map[string]interface{}, sel []string) map[string]interface{} {
	if sel == nil {
		return copyMD(metadata)
	}
	out := make(map[string]interface{}, len(sel))
	for _, name := range sel {
		if v, ok := metadata[name]; ok {
			out[name] = v
		}
	}
	return out
}

func copyMD(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

func (s *Static) Set(key string, v value.Value, bufferSize int) error    { return ErrReadOnly }
func (s *Static) Delete(key string) error                                { return ErrReadOnly }
func (s *Static) SetData(key string, data []byte, bufferSize int) error  { return ErrReadOnly }
func (s *Static) SetMetadata(key string, metadata map[string]interface{}) error {
	return ErrReadOnly
}
func (s *Static) UpdateMetadata(key string, patch map[string]interface{}) error {
	return ErrReadOnly
}

func (s *Static) MultiGet(keys []string) ([]value.Value, []error) { return store.DefaultMultiGet(s, keys) }
func (s *Static) MultiSet(keys []string, values []value.Value, bufferSize int) []error {
	return store.DefaultMultiSet(s, keys, values, bufferSize)
}
func (s *Static) MultiGetData(keys []string) ([][]byte, []error) {
	return store.DefaultMultiGetData(s, keys)
}
func (s *Static) MultiGetMetadata(keys []string, sel []string) ([]map[string]interface{}, []error) {
	return store.DefaultMultiGetMetadata(s, keys, sel)
}
func (s *Static) MultiSetData(keys []string, datas [][]byte, bufferSize int) []error {
	return store.DefaultMultiSetData(s, keys, datas, bufferSize)
}
func (s *Static) MultiSetMetadata(keys []string, metadatas []map[string]interface{}) []error {
	return store.DefaultMultiSetMetadata(s, keys, metadatas)
}
func (s *Static) MultiUpdateMetadata(keys []string, patches []map[string]interface{}) []error {
	return store.DefaultMultiUpdateMetadata(s, keys, patches)
}

func (s *Static) Query(sel []string, match store.Match) ([]store.QueryResult, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []store.QueryResult
	for key, md := range s.index {
		if match != nil && !match.Matches(md) {
			continue
		}
		results = append(results, store.QueryResult{Key: key, Metadata: selectStatic(md, sel)})
	}
	return results, nil
}

func (s *Static) QueryKeys(match store.Match) ([]string, error) { return store.DefaultQueryKeys(s, match) }
func (s *Static) Glob(pattern string) ([]string, error)         { return store.DefaultGlob(s, pattern) }

// Transaction returns a Dummy, since Static has no writes to buffer —
// present only so Default callers that unconditionally wrap a
// transaction (e.g. DefaultMultiSet) don't special-case read-only
// backends.
func (s *Static) Transaction(notes string) (store.Transaction, error) {
	return txn.NewDummy(&s.Base, notes), nil
}

func (s *Static) ToFile(key, path string) error {
	return store.DefaultToFile(s, key, path, s.NewReporter(key, fmt.Sprintf("saving key %q to file %q", key, path)))
}

func (s *Static) FromFile(path, key string) error {
	return store.DefaultFromFile(s, path, key, s.NewReporter(key, fmt.Sprintf("loading key %q from file %q", key, path)))
}

func (s *Static) ToBytes(key string) ([]byte, error) {
	return store.DefaultToBytes(s, key, s.NewReporter(key, fmt.Sprintf("reading key %q into memory", key)))
}

func (s *Static) FromBytes(key string, data []byte) error {
	return store.DefaultFromBytes(s, key, data, s.NewReporter(key, fmt.Sprintf("writing key %q from memory", key)))
}
