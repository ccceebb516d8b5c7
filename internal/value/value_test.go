package value

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/errs"
)

func TestStringValueDataIsFreshEachAccess(t *testing.T) {
	v := NewStringValue([]byte("hello world"), map[string]interface{}{"a": 1}, time.Time{}, time.Time{})

	r1, err := v.Data()
	require.NoError(t, err)
	b1, _ := io.ReadAll(r1)
	assert.Equal(t, "hello world", string(b1))

	r2, err := v.Data()
	require.NoError(t, err)
	b2, _ := io.ReadAll(r2)
	assert.Equal(t, "hello world", string(b2))

	assert.Equal(t, int64(11), v.Size())

	meta := v.Metadata()
	meta["a"] = 999
	assert.Equal(t, 1, v.Metadata()["a"])
}

func TestStringValueRange(t *testing.T) {
	v := NewStringValue([]byte("0123456789"), nil, time.Time{}, time.Time{})

	r, err := v.Range(2, 5)
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "234", string(b))

	r, err = v.Range(8, -1)
	require.NoError(t, err)
	b, _ = io.ReadAll(r)
	assert.Equal(t, "89", string(b))
}

func TestStringValuePermissionsDenied(t *testing.T) {
	v := NewStringValue([]byte("x"), nil, time.Time{}, time.Time{})
	_, err := v.Permissions()
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
}

func TestFileValueStatsAtConstruction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("abcdefghij"), 0o644))

	v, err := NewFileValue(path, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.Size())
	assert.False(t, v.Modified().IsZero())
	assert.True(t, v.Created().IsZero())

	r, err := v.Data()
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "abcdefghij", string(b))
}

func TestFileValueRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	v, err := NewFileValue(path, nil)
	require.NoError(t, err)

	r, err := v.Range(3, 6)
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "345", string(b))
}

func TestFileValueMissingFileErrors(t *testing.T) {
	_, err := NewFileValue(filepath.Join(t.TempDir(), "nope.txt"), nil)
	assert.Error(t, err)
}

func TestURLValueParsesHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write([]byte("hello from the web"))
	}))
	defer srv.Close()

	v := NewURLValue(srv.URL, nil, srv.Client())
	r, err := v.Data()
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "hello from the web", string(b))
	assert.Equal(t, int64(len("hello from the web")), v.Size())
	assert.Equal(t, 2006, v.Modified().Year())
}

func TestURLValueNativeRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "" {
			w.Header().Set("Content-Range", "bytes 2-4/10")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("234"))
			return
		}
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	v := NewURLValue(srv.URL, nil, srv.Client())
	r, err := v.Range(2, 5)
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "234", string(b))
}

func TestURLValueFallbackRangeWhenServerIgnoresIt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	v := NewURLValue(srv.URL, nil, srv.Client())
	r, err := v.Range(2, 5)
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "234", string(b))
}
