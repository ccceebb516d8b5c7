package value

import (
	"bytes"
	"io"
	"time"
)

// StringValue owns an in-memory byte buffer; every Data/Range access
// returns a fresh reader so multiple readers never interfere with one
// another. Grounded on original_source/encore/storage/string_value.py.
type StringValue struct {
	noPermissions
	data     []byte
	metadata map[string]interface{}
	created  time.Time
	modified time.Time
}

// NewStringValue builds a StringValue over data, taking ownership of
// the slice (callers should not mutate it afterward). A nil metadata
// map is treated as empty; zero created/modified default to now.
func NewStringValue(data []byte, metadata map[string]interface{}, created, modified time.Time) *StringValue {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	now := time.Now()
	if created.IsZero() {
		created = now
	}
	if modified.IsZero() {
		modified = now
	}
	return &StringValue{data: data, metadata: metadata, created: created, modified: modified}
}

func (v *StringValue) Data() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(v.data)), nil
}

func (v *StringValue) Metadata() map[string]interface{} { return copyMetadata(v.metadata) }

func (v *StringValue) Size() int64 { return int64(len(v.data)) }

func (v *StringValue) Created() time.Time { return v.created }

func (v *StringValue) Modified() time.Time { return v.modified }

func (v *StringValue) Range(start, end int64) (io.ReadCloser, error) {
	if start < 0 {
		start = 0
	}
	if start > int64(len(v.data)) {
		start = int64(len(v.data))
	}
	stop := int64(len(v.data))
	if end >= 0 && end < stop {
		stop = end
	}
	if stop < start {
		stop = start
	}
	return io.NopCloser(bytes.NewReader(v.data[start:stop])), nil
}
