package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

// queryRow runs query on the open Transaction when there is one, so a
// read inside it sees its writes and does not wait on the single
// connection that transaction holds.
func (s *Store) queryRow(query string, args ...interface{}) *sql.Row {
	s.mu.Lock()
	ext := s.txn
	s.mu.Unlock()
	if ext != nil {
		return ext.tx.QueryRow(query, args...)
	}
	return s.db.QueryRow(query, args...)
}

func (s *Store) fetchMetadata(key string) (map[string]interface{}, bool, error) {
	var raw string
	row := s.queryRow(fmt.Sprintf(`select metadata from %q where key=?`, s.table), key)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	md, err := decodeMetadata(raw)
	return md, true, err
}

func (s *Store) fetchCreated(key string) (time.Time, error) {
	var f float64
	row := s.queryRow(fmt.Sprintf(`select created from %q where key=?`, s.table), key)
	if err := row.Scan(&f); err != nil {
		return time.Time{}, err
	}
	return unixToTime(f), nil
}

func (s *Store) Get(key string) (value.Value, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	var raw string
	var data []byte
	var created, modified float64
	row := s.queryRow(
		fmt.Sprintf(`select metadata, data, created, modified from %q where key=?`, s.table), key,
	)
	if err := row.Scan(&raw, &data, &created, &modified); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrKeyMissing
		}
		return nil, err
	}
	md, err := decodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	return value.NewStringValue(data, md, unixToTime(created), unixToTime(modified)), nil
}

func (s *Store) Exists(key string) bool {
	_, ok, err := s.fetchMetadata(key)
	return err == nil && ok
}

// Set inserts or replaces key's row. Matching original_source, created
// is preserved across an update and only modified advances.
func (s *Store) Set(key string, v value.Value, bufferSize int) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	_, existed, err := s.fetchMetadata(key)
	if err != nil {
		return err
	}
	metadata := v.Metadata()

	r, err := v.Data()
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	now := time.Now()
	created := now
	if existed {
		if t, err := s.fetchCreated(key); err == nil {
			created = t
		}
	}

	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	op := func(tx *sql.Tx) error {
		_, err := tx.Exec(
			fmt.Sprintf(`insert or replace into %q (key, metadata, created, modified, data) values (?, ?, ?, ?, ?)`, s.table),
			key, encoded, timeToUnix(created), timeToUnix(now), data,
		)
		if err != nil {
			return err
		}
		return s.updateIndex(tx, key, metadata)
	}
	emit := func() { s.EmitSet(key, metadata, existed) }
	return s.runAndEmit(op, emit)
}

func (s *Store) Delete(key string) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	metadata, existed, err := s.fetchMetadata(key)
	if err != nil {
		return err
	}
	if !existed {
		return errs.ErrKeyMissing
	}

	op := func(tx *sql.Tx) error {
		_, err := tx.Exec(fmt.Sprintf(`delete from %q where key=?`, s.table), key)
		return err
	}
	emit := func() { s.EmitDelete(key, metadata) }
	return s.runAndEmit(op, emit)
}

func (s *Store) GetData(key string) ([]byte, error) { return store.DefaultGetData(s, key) }

func (s *Store) GetDataRange(key string, start, end int64) ([]byte, error) {
	return store.DefaultGetDataRange(s, key, start, end)
}

func (s *Store) GetMetadata(key string, sel []string) (map[string]interface{}, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	md, existed, err := s.fetchMetadata(key)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, errs.ErrKeyMissing
	}
	return selectSQLMetadata(md, sel), nil
}

func selectSQLMetadata(metadata map[string]interface{}, sel []string) map[string]interface{} {
	if sel == nil {
		return metadata
	}
	out := make(map[string]interface{}, len(sel))
	for _, name := range sel {
		if v, ok := metadata[name]; ok {
			out[name] = v
		}
	}
	return out
}

// SetData replaces a key's data, keeping its existing metadata (an
// empty map for a brand-new key) — original_source's set_data.
func (s *Store) SetData(key string, data []byte, bufferSize int) error {
	metadata, existed, err := s.fetchMetadata(key)
	if err != nil {
		return err
	}
	if !existed {
		metadata = map[string]interface{}{}
	}
	return s.Set(key, value.NewStringValue(data, metadata, time.Time{}, time.Time{}), bufferSize)
}

// SetMetadata replaces a key's metadata wholesale, creating an empty
// data blob for a brand-new key (original_source's set_metadata).
func (s *Store) SetMetadata(key string, metadata map[string]interface{}) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	_, existed, err := s.fetchMetadata(key)
	if err != nil {
		return err
	}
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	now := time.Now()

	op := func(tx *sql.Tx) error {
		if existed {
			if _, err := tx.Exec(
				fmt.Sprintf(`update %q set metadata=?, modified=? where key=?`, s.table),
				encoded, timeToUnix(now), key,
			); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(
				fmt.Sprintf(`insert into %q (key, metadata, created, modified, data) values (?, ?, ?, ?, ?)`, s.table),
				key, encoded, timeToUnix(now), timeToUnix(now), []byte{},
			); err != nil {
				return err
			}
		}
		return s.updateIndex(tx, key, metadata)
	}
	emit := func() { s.EmitSet(key, metadata, existed) }
	return s.runAndEmit(op, emit)
}

// UpdateMetadata merges patch onto key's existing metadata
// (original_source's dict.update semantics).
func (s *Store) UpdateMetadata(key string, patch map[string]interface{}) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	existing, existed, err := s.fetchMetadata(key)
	if err != nil {
		return err
	}
	if !existed {
		return errs.ErrKeyMissing
	}
	merged := make(map[string]interface{}, len(existing)+len(patch))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	encoded, err := encodeMetadata(merged)
	if err != nil {
		return err
	}

	op := func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			fmt.Sprintf(`update %q set metadata=? where key=?`, s.table), encoded, key,
		); err != nil {
			return err
		}
		return s.updateIndex(tx, key, patch)
	}
	emit := func() { s.EmitSet(key, merged, true) }
	return s.runAndEmit(op, emit)
}

func (s *Store) MultiGet(keys []string) ([]value.Value, []error) { return store.DefaultMultiGet(s, keys) }
func (s *Store) MultiSet(keys []string, values []value.Value, bufferSize int) []error {
	return store.DefaultMultiSet(s, keys, values, bufferSize)
}
func (s *Store) MultiGetData(keys []string) ([][]byte, []error) {
	return store.DefaultMultiGetData(s, keys)
}
func (s *Store) MultiGetMetadata(keys []string, sel []string) ([]map[string]interface{}, []error) {
	return store.DefaultMultiGetMetadata(s, keys, sel)
}
func (s *Store) MultiSetData(keys []string, datas [][]byte, bufferSize int) []error {
	return store.DefaultMultiSetData(s, keys, datas, bufferSize)
}
func (s *Store) MultiSetMetadata(keys []string, metadatas []map[string]interface{}) []error {
	return store.DefaultMultiSetMetadata(s, keys, metadatas)
}
func (s *Store) MultiUpdateMetadata(keys []string, patches []map[string]interface{}) []error {
	return store.DefaultMultiUpdateMetadata(s, keys, patches)
}

// Query scans the table, optionally narrowed by any of match's fields
// that have been promoted to indexed columns, then always re-verifies
// the full match against each row's decoded metadata in Go — simpler
// than original_source's split indexed/unindexed SQL generation, at
// the cost of not skipping the final in-Go check for indexed fields
// too.
func (s *Store) Query(sel []string, match store.Match) ([]store.QueryResult, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}

	var whereCols []string
	var args []interface{}
	s.mu.Lock()
	for field, want := range match {
		if s.index != IndexNone && s.indexColumns[field] {
			enc, err := encodeForIndex(want)
			if err != nil {
				s.mu.Unlock()
				return nil, err
			}
			whereCols = append(whereCols, field)
			args = append(args, enc)
		}
	}
	s.mu.Unlock()

	query := fmt.Sprintf(`select key, metadata from %q`, s.table)
	if len(whereCols) > 0 {
		clauses := make([]string, len(whereCols))
		for i, c := range whereCols {
			clauses[i] = fmt.Sprintf("%q=?", c)
		}
		query += " where " + strings.Join(clauses, " and ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []store.QueryResult
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		md, err := decodeMetadata(raw)
		if err != nil {
			return nil, err
		}
		if match != nil && !match.Matches(md) {
			continue
		}
		results = append(results, store.QueryResult{Key: key, Metadata: selectSQLMetadata(md, sel)})
	}
	return results, rows.Err()
}

func encodeForIndex(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func (s *Store) QueryKeys(match store.Match) ([]string, error) { return store.DefaultQueryKeys(s, match) }
func (s *Store) Glob(pattern string) ([]string, error)         { return store.DefaultGlob(s, pattern) }

func (s *Store) ToFile(key, path string) error {
	return store.DefaultToFile(s, key, path, s.NewReporter(key, fmt.Sprintf("saving key %q to file %q", key, path)))
}

func (s *Store) FromFile(path, key string) error {
	return store.DefaultFromFile(s, path, key, s.NewReporter(key, fmt.Sprintf("loading key %q from file %q", key, path)))
}

func (s *Store) ToBytes(key string) ([]byte, error) {
	return store.DefaultToBytes(s, key, s.NewReporter(key, fmt.Sprintf("reading key %q into memory", key)))
}

func (s *Store) FromBytes(key string, data []byte) error {
	return store.DefaultFromBytes(s, key, data, s.NewReporter(key, fmt.Sprintf("writing key %q from memory", key)))
}
