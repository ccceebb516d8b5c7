package value

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// URLValue lazily opens an HTTP GET against url on first Data/Range
// access; Size/Modified are parsed from the response's Content-Length
// and Last-Modified headers once that request completes. Grounded on
// original_source/encore/storage/url_value.py.
type URLValue struct {
	noPermissions
	url      string
	metadata map[string]interface{}
	client   *http.Client

	opened   bool
	size     int64
	modified time.Time
}

// NewURLValue builds a URLValue over url. A nil client uses
// http.DefaultClient.
func NewURLValue(url string, metadata map[string]interface{}, client *http.Client) *URLValue {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &URLValue{url: url, metadata: metadata, client: client, size: -1}
}

func (v *URLValue) Metadata() map[string]interface{} { return copyMetadata(v.metadata) }

// Data performs the GET and returns its body. Size/Modified become
// accurate only after this (or Range) has been called at least once,
// matching the original's lazy _stat-on-open behavior.
func (v *URLValue) Data() (io.ReadCloser, error) {
	resp, err := v.client.Get(v.url)
	if err != nil {
		return nil, err
	}
	v.recordMetaFromHeaders(resp)
	return resp.Body, nil
}

func (v *URLValue) recordMetaFromHeaders(resp *http.Response) {
	v.opened = true
	if resp.ContentLength >= 0 {
		v.size = resp.ContentLength
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			v.modified = t
		}
	}
}

// Size returns -1 until Data or Range has been called at least once.
func (v *URLValue) Size() int64 { return v.size }

// Created is never available over HTTP; the original never sets it
// either.
func (v *URLValue) Created() time.Time { return time.Time{} }

func (v *URLValue) Modified() time.Time { return v.modified }

// Range requests [start, end) via an HTTP Range header. If the server
// honors it (206), the response body is returned directly. Otherwise
// the fallback discards the first start bytes of the full (200) body
// and, if end was given, limits what remains.
func (v *URLValue) Range(start, end int64) (io.ReadCloser, error) {
	if start < 0 {
		start = 0
	}
	req, err := http.NewRequest(http.MethodGet, v.url, nil)
	if err != nil {
		return nil, err
	}
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	v.recordMetaFromHeaders(resp)

	if resp.StatusCode == http.StatusPartialContent {
		return resp.Body, nil
	}

	if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil && err != io.EOF {
		resp.Body.Close()
		return nil, err
	}
	if end < 0 {
		return resp.Body, nil
	}
	return limitedReadCloser{r: io.LimitReader(resp.Body, end-start), c: resp.Body}, nil
}
