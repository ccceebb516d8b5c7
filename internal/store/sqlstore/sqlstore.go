// Package sqlstore implements a single-table sqlite Store, each row
// holding a key, its metadata (JSON text), its data (blob), and
// created/modified timestamps. A subset of metadata fields can be
// promoted to their own indexed columns for faster Query/QueryKeys.
// Grounded on original_source/encore/storage/sqlite_store.py, with the
// driver/connection-pool idiom (single-connection *sql.DB, WAL,
// busy_timeout) taken from internal/storage/ephemeral/store.go.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

// schemaLockTimeout bounds how long Connect waits for another process's
// table-create/index-rebuild to finish before giving up.
const schemaLockTimeout = 30 * time.Second

// IndexMode selects how metadata fields are promoted to queryable
// columns (original_source's index constructor argument).
type IndexMode string

const (
	// IndexNone performs no column promotion; every Query scans metadata
	// in Go after a full-table read.
	IndexNone IndexMode = ""
	// IndexStatic only ever indexes the columns given at construction.
	IndexStatic IndexMode = "static"
	// IndexDynamic promotes any previously-unseen metadata field it
	// encounters in Set/SetMetadata/UpdateMetadata to its own column
	// (original_source's _update_index "dynamic" branch).
	IndexDynamic IndexMode = "dynamic"
)

const reservedColumns = "key,metadata,created,modified,data"

// Store is a sqlite-backed key-value store in a single table.
//
// The table name and any index column names are interpolated directly
// into SQL identifiers and are not sanitized — original_source's own
// warning applies here too: never derive them from user-supplied
// values.
type Store struct {
	store.Base

	location string
	table    string
	index    IndexMode

	mu           sync.Mutex // guards indexColumns and txn
	indexColumns map[string]bool
	db           *sql.DB
	txn          *sqlTxn
}

// New constructs a Store. location is a sqlite DSN path, or ":memory:"
// for an ephemeral in-process database. indexColumns seeds the known
// index columns (required for IndexStatic; a starting point for
// IndexDynamic, which will grow the set as new metadata fields appear).
func New(bus *event.Bus, location, table string, index IndexMode, indexColumns []string) *Store {
	if table == "" {
		table = "store"
	}
	cols := make(map[string]bool, len(indexColumns))
	for _, c := range indexColumns {
		cols[c] = true
	}
	s := &Store{location: location, table: table, index: index, indexColumns: cols}
	s.Base = store.NewBase(bus, s)
	return s
}

func (s *Store) Info() store.Info {
	return store.Info{Readonly: false}
}

// Connect opens the sqlite database (creating it if necessary), then
// creates the table if it doesn't already exist or, if it does and
// indexing is enabled, backfills any configured index columns the
// existing table lacks (original_source's "being paranoid" rebuild).
func (s *Store) Connect(credentials interface{}) error {
	dsn := s.location
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000", s.location)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	s.db = db

	if err := s.withSchemaLock(func() error {
		exists, err := s.tableExists()
		if err != nil {
			return err
		}
		if !exists {
			return s.createTable()
		}
		if s.index == IndexNone {
			return nil
		}
		existing, err := s.existingIndexColumns()
		if err != nil {
			return err
		}
		for c := range s.indexColumns {
			if !existing[c] {
				return s.rebuildIndex(existing)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return err
	}

	s.MarkConnected()
	return nil
}

// withSchemaLock runs fn while holding an on-disk flock guarding schema
// creation and index-column migration, so two processes opening the
// same sqlite file don't race each other's DDL. In-memory databases
// have no other process to race against, so fn runs directly.
func (s *Store) withSchemaLock(fn func() error) error {
	if s.location == ":memory:" {
		return fn()
	}
	fl := flock.New(s.location + ".schema.lock")
	ctx, cancel := context.WithTimeout(context.Background(), schemaLockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring sqlstore schema lock: %w", err)
	}
	if !locked {
		return errs.TimedOut("sqlstore schema lock")
	}
	defer fl.Unlock()
	return fn()
}

func (s *Store) Disconnect() error {
	err := s.db.Close()
	s.db = nil
	s.MarkDisconnected()
	return err
}

func (s *Store) tableExists() (bool, error) {
	row := s.db.QueryRow(`select name from sqlite_master where type='table' and name=?`, s.table)
	var name string
	err := row.Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, ignoreNoRows(err)
}

func ignoreNoRows(err error) error {
	if err == sql.ErrNoRows {
		return nil
	}
	return err
}

func (s *Store) createTable() error {
	query := fmt.Sprintf(
		`create table %q (key text primary key, metadata text, created real, modified real, data blob)`,
		s.table,
	)
	_, err := s.db.Exec(query)
	return err
}

// existingIndexColumns lists the table's columns beyond the five base
// ones, i.e. whatever has already been promoted to its own column.
func (s *Store) existingIndexColumns() (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`pragma table_info(%q)`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		if !strings.Contains(","+reservedColumns+",", ","+name+",") {
			cols[name] = true
		}
	}
	return cols, rows.Err()
}

// rebuildIndex adds any configured-but-missing index columns and
// backfills them from every existing row's metadata.
func (s *Store) rebuildIndex(existing map[string]bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for col := range s.indexColumns {
		if existing[col] {
			continue
		}
		if err := addIndexColumn(tx, s.table, col); err != nil {
			return err
		}
	}

	rows, err := tx.Query(fmt.Sprintf(`select key, metadata from %q`, s.table))
	if err != nil {
		return err
	}
	var toUpdate []struct {
		key      string
		metadata map[string]interface{}
	}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return err
		}
		md, err := decodeMetadata(raw)
		if err != nil {
			rows.Close()
			return err
		}
		toUpdate = append(toUpdate, struct {
			key      string
			metadata map[string]interface{}
		}{key, md})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range toUpdate {
		if err := s.updateIndex(tx, u.key, u.metadata); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func addIndexColumn(tx *sql.Tx, table, col string) error {
	if _, err := tx.Exec(fmt.Sprintf(`alter table %q add column %q text`, table, col)); err != nil {
		return err
	}
	_, err := tx.Exec(fmt.Sprintf(`create index %q on %q (%q)`, table+"_"+col+"_idx", table, col))
	return err
}

// updateIndex writes the values of metadata's indexed fields into
// their promoted columns. Under IndexDynamic, fields never seen before
// are promoted on the spot (original_source's _update_index).
func (s *Store) updateIndex(tx *sql.Tx, key string, metadata map[string]interface{}) error {
	if s.index == IndexNone {
		return nil
	}
	if s.index == IndexDynamic {
		s.mu.Lock()
		var toAdd []string
		for field := range metadata {
			if !s.indexColumns[field] {
				toAdd = append(toAdd, field)
			}
		}
		s.mu.Unlock()
		for _, field := range toAdd {
			if err := addIndexColumn(tx, s.table, field); err != nil {
				return err
			}
			s.mu.Lock()
			s.indexColumns[field] = true
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	var cols []string
	var vals []interface{}
	for field := range s.indexColumns {
		if v, ok := metadata[field]; ok {
			cols = append(cols, field)
			enc, err := json.Marshal(v)
			if err != nil {
				s.mu.Unlock()
				return err
			}
			vals = append(vals, string(enc))
		}
	}
	s.mu.Unlock()
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%q=?", c)
	}
	vals = append(vals, key)
	_, err := tx.Exec(fmt.Sprintf(`update %q set %s where key=?`, s.table, strings.Join(sets, ", ")), vals...)
	return err
}

func decodeMetadata(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var md map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, err
	}
	return md, nil
}

func encodeMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	b, err := json.Marshal(metadata)
	return string(b), err
}

func unixToTime(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
