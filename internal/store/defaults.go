package store

import (
	"bytes"
	"io"
	"os"

	"github.com/corestash/corestash/internal/progress"
	"github.com/corestash/corestash/internal/value"
)

// DefaultGetData implements GetData atop Get, for backends with no
// more direct path to a key's bytes.
func DefaultGetData(s Store, key string) ([]byte, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	r, err := v.Data()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// DefaultGetDataRange implements GetDataRange atop Get.
func DefaultGetDataRange(s Store, key string, start, end int64) ([]byte, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	r, err := v.Range(start, end)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// DefaultGetMetadata implements GetMetadata atop Get, restricting the
// returned metadata mapping to the named fields.
func DefaultGetMetadata(s Store, key string, sel []string) (map[string]interface{}, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	return selectFields(v.Metadata(), sel), nil
}

// DefaultExists implements Exists atop Get, never surfacing its error.
func DefaultExists(s Store, key string) bool {
	_, err := s.Get(key)
	return err == nil
}

// DefaultMultiGet/MultiGetData/MultiGetMetadata/MultiSet/MultiSetData/
// MultiSetMetadata/MultiUpdateMetadata implement the batch operations
// as independent per-key calls, zip-style: if keys and the paired
// slice have different lengths, the shorter one wins and any extra
// elements are silently ignored.

func zipLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func DefaultMultiGet(s Store, keys []string) ([]value.Value, []error) {
	values := make([]value.Value, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		values[i], errs[i] = s.Get(k)
	}
	return values, errs
}

func DefaultMultiGetData(s Store, keys []string) ([][]byte, []error) {
	datas := make([][]byte, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		datas[i], errs[i] = s.GetData(k)
	}
	return datas, errs
}

func DefaultMultiGetMetadata(s Store, keys []string, sel []string) ([]map[string]interface{}, []error) {
	metas := make([]map[string]interface{}, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		metas[i], errs[i] = s.GetMetadata(k, sel)
	}
	return metas, errs
}

// DefaultMultiSet runs one Set per (key, value) pair, wrapped in a
// single transaction when the backend supports one.
func DefaultMultiSet(s Store, keys []string, values []value.Value, bufferSize int) []error {
	n := zipLen(len(keys), len(values))
	errs := make([]error, n)
	txn, txErr := s.Transaction("multiset")
	for i := 0; i < n; i++ {
		errs[i] = s.Set(keys[i], values[i], bufferSize)
	}
	if txErr == nil {
		commitOrRollback(txn, errs)
	}
	return errs
}

func DefaultMultiSetData(s Store, keys []string, datas [][]byte, bufferSize int) []error {
	n := zipLen(len(keys), len(datas))
	errs := make([]error, n)
	txn, txErr := s.Transaction("multiset-data")
	for i := 0; i < n; i++ {
		errs[i] = s.SetData(keys[i], datas[i], bufferSize)
	}
	if txErr == nil {
		commitOrRollback(txn, errs)
	}
	return errs
}

func DefaultMultiSetMetadata(s Store, keys []string, metadatas []map[string]interface{}) []error {
	n := zipLen(len(keys), len(metadatas))
	errs := make([]error, n)
	txn, txErr := s.Transaction("multiset-metadata")
	for i := 0; i < n; i++ {
		errs[i] = s.SetMetadata(keys[i], metadatas[i])
	}
	if txErr == nil {
		commitOrRollback(txn, errs)
	}
	return errs
}

func DefaultMultiUpdateMetadata(s Store, keys []string, patches []map[string]interface{}) []error {
	n := zipLen(len(keys), len(patches))
	errs := make([]error, n)
	txn, txErr := s.Transaction("multiupdate-metadata")
	for i := 0; i < n; i++ {
		errs[i] = s.UpdateMetadata(keys[i], patches[i])
	}
	if txErr == nil {
		commitOrRollback(txn, errs)
	}
	return errs
}

func commitOrRollback(txn Transaction, errs []error) {
	for _, err := range errs {
		if err != nil {
			txn.Rollback()
			return
		}
	}
	txn.Commit()
}

// DefaultQueryKeys implements QueryKeys atop Query.
func DefaultQueryKeys(s Store, match Match) ([]string, error) {
	results, err := s.Query(nil, match)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = r.Key
	}
	return keys, nil
}

// DefaultGlob implements Glob atop QueryKeys, matching shell-style over
// key strings only.
func DefaultGlob(s Store, pattern string) ([]string, error) {
	keys, err := s.QueryKeys(nil)
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, k := range keys {
		if globMatch(pattern, k) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

const defaultBufferSize = 1 << 20 // 1 MiB, matching the original's default.

// DefaultToFile copies a key's data to a local file, reporting progress
// via the given reporter for long transfers.
func DefaultToFile(s Store, key, path string, reporter *progress.Reporter) error {
	v, err := s.Get(key)
	if err != nil {
		return err
	}
	r, err := v.Data()
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return copyWithProgress(f, r, v.Size(), reporter)
}

// DefaultFromFile reads a local file's bytes into key, streaming
// between the store and a local byte medium.
func DefaultFromFile(s Store, path, key string, reporter *progress.Reporter) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := copyWithProgress(&buf, f, st.Size(), reporter); err != nil {
		return err
	}
	return s.SetData(key, buf.Bytes(), defaultBufferSize)
}

// DefaultToBytes reads a key's full data into memory, reporting
// progress via reporter for long transfers the same way DefaultToFile
// does.
func DefaultToBytes(s Store, key string, reporter *progress.Reporter) ([]byte, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	r, err := v.Data()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if err := copyWithProgress(&buf, r, v.Size(), reporter); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultFromBytes writes data into key, reporting progress via
// reporter for long transfers.
func DefaultFromBytes(s Store, key string, data []byte, reporter *progress.Reporter) error {
	if reporter == nil {
		return s.SetData(key, data, defaultBufferSize)
	}
	reporter.Start(nil, int((int64(len(data))+defaultBufferSize-1)/defaultBufferSize))
	defer reporter.End("", progress.ExitNormal, nil)
	reporter.Step("", -1, nil)
	return s.SetData(key, data, defaultBufferSize)
}

func copyWithProgress(dst io.Writer, src io.Reader, size int64, reporter *progress.Reporter) error {
	if reporter == nil {
		_, err := io.Copy(dst, src)
		return err
	}
	var steps int
	if size > 0 {
		steps = int((size + defaultBufferSize - 1) / defaultBufferSize)
	}
	reporter.Start(nil, steps)
	defer reporter.End("", progress.ExitNormal, nil)

	buf := make([]byte, defaultBufferSize)
	var copied int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			copied += int64(n)
			reporter.Step("", -1, nil)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
