package natives

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"embervm/internal/heap"
	"embervm/internal/value"
)

// NewKVModule binds a tiny persistent key-value store backed by
// modernc.org/sqlite, exposed through the Resource object (spec.md §4.8):
// kv.open(path) returns a Resource whose Handle indexes the *sql.DB and
// whose Cleanup closes it when the script calls kv.close. The Resource is
// not registered with the collector, so collection never runs Cleanup.
func NewKVModule() *Module {
	m := NewModule("kv")
	var nextHandle int64

	handles := make(map[int64]*sql.DB)

	m.Register("open", 1, func(args []any) (any, error) {
		path := args[0].(value.Value)
		pathStr, _ := path.AsString()
		db, err := sql.Open("sqlite", pathStr.String())
		if err != nil {
			return nil, fmt.Errorf("kv.open: %w", err)
		}
		if _, err := db.Exec("CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
			return nil, fmt.Errorf("kv.open: %w", err)
		}
		id := atomic.AddInt64(&nextHandle, 1)
		handles[id] = db

		res := &heap.Resource{
			Header: heap.Header{Tag: heap.TagResource},
			Name:   "kv.db",
			Handle: id,
			Cleanup: func() {
				_ = db.Close()
				delete(handles, id)
			},
		}
		return value.NewObj(res), nil
	})

	m.Register("set", 3, func(args []any) (any, error) {
		res, ok := args[0].(value.Value).AsResource()
		if !ok {
			return nil, fmt.Errorf("kv.set: first argument is not a kv handle")
		}
		db := handles[res.Handle.(int64)]
		key, _ := args[1].(value.Value).AsString()
		val, _ := args[2].(value.Value).AsString()
		_, err := db.Exec("INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v=excluded.v",
			key.String(), val.String())
		return value.NewNil(), err
	})

	m.Register("get", 2, func(args []any) (any, error) {
		res, ok := args[0].(value.Value).AsResource()
		if !ok {
			return nil, fmt.Errorf("kv.get: first argument is not a kv handle")
		}
		db := handles[res.Handle.(int64)]
		key, _ := args[1].(value.Value).AsString()
		var v string
		err := db.QueryRow("SELECT v FROM kv WHERE k = ?", key.String()).Scan(&v)
		if err == sql.ErrNoRows {
			return value.NewNil(), nil
		}
		if err != nil {
			return nil, err
		}
		return value.NewRawString(v), nil
	})

	m.Register("close", 1, func(args []any) (any, error) {
		res, ok := args[0].(value.Value).AsResource()
		if !ok {
			return nil, fmt.Errorf("kv.close: first argument is not a kv handle")
		}
		res.Clean()
		return value.NewNil(), nil
	})

	return m
}
