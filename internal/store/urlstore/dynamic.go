package urlstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/txn"
	"github.com/corestash/corestash/internal/value"
)

// Dynamic is a read-write, authorizing store that maps each operation
// onto an HTTP verb against baseURL/<key>/{data|metadata|auth},
// grounded on original_source/encore/storage/dynamic_url_store.py.
//
// Two deliberate deviations from that original: Set/SetData/SetMetadata/
// UpdateMetadata/Delete here all emit the usual StoreSetEvent/
// StoreUpdateEvent/StoreDeleteEvent, where the original never wires an
// event manager into this class at all; and Delete performs a real HTTP
// DELETE, where the original's delete() is an empty `pass` stub.
type Dynamic struct {
	store.Base

	client  *http.Client
	baseURL string
	queryURL string
}

// New constructs a Dynamic store. baseURL roots the per-key
// data/metadata/auth URLs; queryURL is the endpoint Query/QueryKeys GET
// (with match constraints passed as JSON-encoded query parameters,
// mirroring original_source's query_url helper).
func NewDynamic(bus *event.Bus, baseURL, queryURL string) *Dynamic {
	d := &Dynamic{baseURL: strings.TrimRight(baseURL, "/"), queryURL: queryURL, client: http.DefaultClient}
	d.Base = store.NewBase(bus, d)
	return d
}

func (d *Dynamic) Info() store.Info { return store.Info{Readonly: false, Authorizing: true} }

// Connect accepts an optional *http.Client as credentials (in place of
// original_source's (user_tag, session) pair — an http.Client already
// carries whatever auth transport the caller configured).
func (d *Dynamic) Connect(credentials interface{}) error {
	if c, ok := credentials.(*http.Client); ok && c != nil {
		d.client = c
	}
	d.MarkConnected()
	return nil
}

func (d *Dynamic) Disconnect() error {
	d.MarkDisconnected()
	return nil
}

func (d *Dynamic) urlFor(key, part string) string {
	return d.baseURL + "/" + escapeKey(key) + "/" + part
}

func translateStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errs.ErrKeyMissing
	case http.StatusForbidden:
		return errs.ErrPermissionDenied
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("urlstore: request to %s failed: %s", resp.Request.URL, resp.Status)
	}
	return nil
}

func (d *Dynamic) doJSON(method, url string, body interface{}) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return d.client.Do(req)
}

func (d *Dynamic) Exists(key string) bool {
	resp, err := d.client.Head(d.urlFor(key, "data"))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *Dynamic) Get(key string) (value.Value, error) {
	if err := d.RequireConnected(); err != nil {
		return nil, err
	}
	metadata, err := d.GetMetadata(key, nil)
	if err != nil {
		return nil, err
	}
	uv := value.NewURLValue(d.urlFor(key, "data"), metadata, d.client)
	return &authedValue{URLValue: uv, client: d.client, permissionsURL: d.urlFor(key, "auth")}, nil
}

func (d *Dynamic) GetData(key string) ([]byte, error) { return store.DefaultGetData(d, key) }
func (d *Dynamic) GetDataRange(key string, start, end int64) ([]byte, error) {
	return store.DefaultGetDataRange(d, key, start, end)
}

func (d *Dynamic) GetMetadata(key string, sel []string) (map[string]interface{}, error) {
	if err := d.RequireConnected(); err != nil {
		return nil, err
	}
	resp, err := d.client.Get(d.urlFor(key, "metadata"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := translateStatus(resp); err != nil {
		return nil, err
	}
	var md map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return nil, err
	}
	return selectStatic(md, sel), nil
}

// putData PUTs the raw bytes against a key's data URL. It performs no
// event emission — callers own that, so a single logical mutation (Set
// touching both data and metadata) emits exactly one event rather than
// one per underlying HTTP call.
func (d *Dynamic) putData(key string, data []byte) error {
	req, err := http.NewRequest(http.MethodPut, d.urlFor(key, "data"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return translateStatus(resp)
}

func (d *Dynamic) putMetadata(key string, metadata map[string]interface{}) error {
	resp, err := d.doJSON(http.MethodPut, d.urlFor(key, "metadata"), metadata)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return translateStatus(resp)
}

// postMetadata submits patch as a metadata merge, matching
// original_source's update_metadata using POST where set_metadata uses
// PUT.
func (d *Dynamic) postMetadata(key string, patch map[string]interface{}) error {
	resp, err := d.doJSON(http.MethodPost, d.urlFor(key, "metadata"), patch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return translateStatus(resp)
}

func (d *Dynamic) deleteKey(key string) error {
	req, err := http.NewRequest(http.MethodDelete, d.urlFor(key, "data"), nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return translateStatus(resp)
}

func (d *Dynamic) Set(key string, v value.Value, bufferSize int) error {
	if err := d.RequireConnected(); err != nil {
		return err
	}
	existed := d.Exists(key)
	r, err := v.Data()
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := d.putData(key, data); err != nil {
		return err
	}
	metadata := v.Metadata()
	if err := d.putMetadata(key, metadata); err != nil {
		return err
	}
	d.EmitSet(key, metadata, existed)
	return nil
}

func (d *Dynamic) SetData(key string, data []byte, bufferSize int) error {
	if err := d.RequireConnected(); err != nil {
		return err
	}
	existed := d.Exists(key)
	if err := d.putData(key, data); err != nil {
		return err
	}
	metadata, _ := d.GetMetadata(key, nil)
	d.EmitSet(key, metadata, existed)
	return nil
}

func (d *Dynamic) SetMetadata(key string, metadata map[string]interface{}) error {
	if err := d.RequireConnected(); err != nil {
		return err
	}
	existed := d.Exists(key)
	if err := d.putMetadata(key, metadata); err != nil {
		return err
	}
	d.EmitSet(key, metadata, existed)
	return nil
}

func (d *Dynamic) UpdateMetadata(key string, patch map[string]interface{}) error {
	if err := d.RequireConnected(); err != nil {
		return err
	}
	if err := d.postMetadata(key, patch); err != nil {
		return err
	}
	merged, _ := d.GetMetadata(key, nil)
	d.EmitSet(key, merged, true)
	return nil
}

// Delete supplements original_source's empty `pass` stub with a real
// DELETE against the key's data URL.
func (d *Dynamic) Delete(key string) error {
	if err := d.RequireConnected(); err != nil {
		return err
	}
	metadata, err := d.GetMetadata(key, nil)
	if err != nil {
		return err
	}
	if err := d.deleteKey(key); err != nil {
		return err
	}
	d.EmitDelete(key, metadata)
	return nil
}

func (d *Dynamic) MultiGet(keys []string) ([]value.Value, []error) { return store.DefaultMultiGet(d, keys) }
func (d *Dynamic) MultiSet(keys []string, values []value.Value, bufferSize int) []error {
	return store.DefaultMultiSet(d, keys, values, bufferSize)
}
func (d *Dynamic) MultiGetData(keys []string) ([][]byte, []error) {
	return store.DefaultMultiGetData(d, keys)
}
func (d *Dynamic) MultiGetMetadata(keys []string, sel []string) ([]map[string]interface{}, []error) {
	return store.DefaultMultiGetMetadata(d, keys, sel)
}
func (d *Dynamic) MultiSetData(keys []string, datas [][]byte, bufferSize int) []error {
	return store.DefaultMultiSetData(d, keys, datas, bufferSize)
}
func (d *Dynamic) MultiSetMetadata(keys []string, metadatas []map[string]interface{}) []error {
	return store.DefaultMultiSetMetadata(d, keys, metadatas)
}
func (d *Dynamic) MultiUpdateMetadata(keys []string, patches []map[string]interface{}) []error {
	return store.DefaultMultiUpdateMetadata(d, keys, patches)
}

// QueryKeys GETs queryURL with each match constraint JSON-encoded as a
// query parameter, then reads back a newline-delimited key list
// (original_source's query_keys/query_url).
func (d *Dynamic) QueryKeys(match store.Match) ([]string, error) {
	if err := d.RequireConnected(); err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, d.queryURL, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for field, want := range match {
		encoded, err := json.Marshal(want)
		if err != nil {
			return nil, err
		}
		q.Set(field, string(encoded))
	}
	req.URL.RawQuery = q.Encode()

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := translateStatus(resp); err != nil {
		return nil, err
	}

	var keys []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			keys = append(keys, line)
		}
	}
	return keys, scanner.Err()
}

// Query composes QueryKeys with a GetMetadata per matching key, same as
// original_source's query() built atop query_keys.
func (d *Dynamic) Query(sel []string, match store.Match) ([]store.QueryResult, error) {
	keys, err := d.QueryKeys(match)
	if err != nil {
		return nil, err
	}
	results := make([]store.QueryResult, 0, len(keys))
	for _, key := range keys {
		md, err := d.GetMetadata(key, sel)
		if err != nil {
			continue
		}
		results = append(results, store.QueryResult{Key: key, Metadata: md})
	}
	return results, nil
}

func (d *Dynamic) Glob(pattern string) ([]string, error) { return store.DefaultGlob(d, pattern) }

// Transaction returns a Dummy — original_source's transaction() returns
// its own DummyTransactionContext for the same reason: this backend has
// no native batching, every write already took effect by the time
// Commit/Rollback runs.
func (d *Dynamic) Transaction(notes string) (store.Transaction, error) {
	return txn.NewDummy(&d.Base, notes), nil
}

func (d *Dynamic) ToFile(key, path string) error {
	return store.DefaultToFile(d, key, path, d.NewReporter(key, fmt.Sprintf("saving key %q to file %q", key, path)))
}

func (d *Dynamic) FromFile(path, key string) error {
	return store.DefaultFromFile(d, path, key, d.NewReporter(key, fmt.Sprintf("loading key %q from file %q", key, path)))
}

func (d *Dynamic) ToBytes(key string) ([]byte, error) {
	return store.DefaultToBytes(d, key, d.NewReporter(key, fmt.Sprintf("reading key %q into memory", key)))
}

func (d *Dynamic) FromBytes(key string, data []byte) error {
	return store.DefaultFromBytes(d, key, data, d.NewReporter(key, fmt.Sprintf("writing key %q from memory", key)))
}

// GetPermissions/SetPermissions/UpdatePermissions expose the auth URL
// part directly, for callers that want permissions without going
// through a Value (original_source's get_permissions/set_permissions/
// update_permissions). get_permissions here is a plain GET — the
// original's GET-with-a-JSON-body call is a bug fixed by using the
// resolved, bodyless GET this port settled on.
func (d *Dynamic) GetPermissions(key string) (interface{}, error) {
	if err := d.RequireConnected(); err != nil {
		return nil, err
	}
	resp, err := d.client.Get(d.urlFor(key, "auth"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := translateStatus(resp); err != nil {
		return nil, err
	}
	var perms interface{}
	if err := json.NewDecoder(resp.Body).Decode(&perms); err != nil {
		return nil, err
	}
	return perms, nil
}

func (d *Dynamic) SetPermissions(key string, permissions interface{}) error {
	if err := d.RequireConnected(); err != nil {
		return err
	}
	resp, err := d.doJSON(http.MethodPut, d.urlFor(key, "auth"), permissions)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return translateStatus(resp)
}

func (d *Dynamic) UpdatePermissions(key string, patch interface{}) error {
	if err := d.RequireConnected(); err != nil {
		return err
	}
	resp, err := d.doJSON(http.MethodPost, d.urlFor(key, "auth"), patch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return translateStatus(resp)
}
