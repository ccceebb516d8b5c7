// Package value implements the Value abstraction every store read
// returns: a uniform view over data, metadata, size, and
// timestamps across three backing representations — in-memory,
// on-disk, and HTTP. Grounded on
// original_source/encore/storage/{string_value,file_value,url_value}.py.
package value

import (
	"io"
	"time"

	"github.com/corestash/corestash/errs"
)

// Value is the read-side view of one stored entry.
type Value interface {
	// Data returns a readable stream over the contents. StringValue
	// returns a fresh reader on every call and URLValue performs a new
	// GET on every call; FileValue opens the file lazily on first access
	// and returns that same handle, at its current offset, on later calls.
	Data() (io.ReadCloser, error)
	// Metadata returns a copy of the value's metadata map; mutating the
	// returned map never affects the Value.
	Metadata() map[string]interface{}
	// Size returns the content length in bytes, if known.
	Size() int64
	// Created returns the value's creation time, if known.
	Created() time.Time
	// Modified returns the value's last-modified time, if known.
	Modified() time.Time
	// Permissions returns backend-specific ACL/permission data.
	// Non-authorizing backends always return errs.ErrPermissionDenied.
	Permissions() (interface{}, error)
	// Range returns a stream over the half-open byte range
	// [start, end). A negative end means "through EOF".
	Range(start, end int64) (io.ReadCloser, error)
}

// noPermissions is embedded by backends with no permission concept.
type noPermissions struct{}

func (noPermissions) Permissions() (interface{}, error) {
	return nil, errs.ErrPermissionDenied
}
