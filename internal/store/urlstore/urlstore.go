// Package urlstore implements two HTTP-backed Store variants:
// Static, a read-only store that polls a JSON metadata index and
// serves data from plain GETs (grounded on
// original_source/encore/storage/static_url_store.py, itself a
// modernized rewrite of http_store.py), and Dynamic, a read-write
// store that maps each operation onto a verb against
// root/<key>/{data|metadata|auth} (grounded on
// original_source/encore/storage/dynamic_url_store.py).
package urlstore

import (
	"errors"
	"net/url"
	"strings"
)

// ErrReadOnly is returned by every Static write method.
var ErrReadOnly = errors.New("urlstore: static store is read-only")

// escapeKey percent-escapes each '/'-separated segment of key
// independently, so a key containing a literal slash still maps to a
// multi-segment URL path rather than one opaque escaped segment
// (original_source's urllib.quote(key, safe="/~!$&'()*+,;=:@")).
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
