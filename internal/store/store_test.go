package store

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tile-hub/tile-hub/internal/tile"
)

func TestLookupMissReturnsNoError(t *testing.T) {
	st := newTestStore(t)
	data, ok, err := st.Lookup(context.Background(), testID())
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if ok || data != nil {
		t.Fatalf("expected miss on empty store")
	}
}

func TestUpsertThenLookup(t *testing.T) {
	st := newTestStore(t)
	id := testID()
	payload := []byte("IMG")

	if err := st.Upsert(context.Background(), id, payload); err != nil {
		t.Fatalf("upsert error: %v", err)
	}

	data, ok, err := st.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if !ok || !bytes.Equal(data, payload) {
		t.Fatalf("cached payload mismatch: ok=%v data=%q", ok, data)
	}
}

func TestUpsertOverwritesExistingKey(t *testing.T) {
	st := newTestStore(t)
	id := testID()

	if err := st.Upsert(context.Background(), id, []byte("v1")); err != nil {
		t.Fatalf("first upsert error: %v", err)
	}
	if err := st.Upsert(context.Background(), id, []byte("v2")); err != nil {
		t.Fatalf("second upsert error: %v", err)
	}

	data, ok, err := st.Lookup(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("lookup after overwrite: ok=%v err=%v", ok, err)
	}
	if string(data) != "v2" {
		t.Fatalf("后写应获胜, got %q", data)
	}

	// 唯一约束保证同键只有一行。
	raw := st.(*sqliteStore)
	var count int
	if err := raw.db.QueryRow(`SELECT COUNT(*) FROM Tiles;`).Scan(&count); err != nil {
		t.Fatalf("count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestKeyIncludesAllFourFields(t *testing.T) {
	st := newTestStore(t)
	base := testID()

	variants := []tile.ID{
		{Zoom: base.Zoom + 1, X: base.X, Y: base.Y, Provider: base.Provider},
		{Zoom: base.Zoom, X: base.X + 1, Y: base.Y, Provider: base.Provider},
		{Zoom: base.Zoom, X: base.X, Y: base.Y + 1, Provider: base.Provider},
		{Zoom: base.Zoom, X: base.X, Y: base.Y, Provider: "other.example.com"},
	}

	if err := st.Upsert(context.Background(), base, []byte("base")); err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	for _, v := range variants {
		if _, ok, err := st.Lookup(context.Background(), v); err != nil || ok {
			t.Fatalf("变体键 %v 不应命中: ok=%v err=%v", v, ok, err)
		}
	}
}

func TestNegativeIndexesRoundTrip(t *testing.T) {
	st := newTestStore(t)
	id := tile.ID{Zoom: 2, X: -1, Y: -3, Provider: "tiles.example.com"}
	if err := st.Upsert(context.Background(), id, []byte("neg")); err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	data, ok, err := st.Lookup(context.Background(), id)
	if err != nil || !ok || string(data) != "neg" {
		t.Fatalf("负索引键应可存取: ok=%v err=%v", ok, err)
	}
}

func TestOpenIsIdempotentAndPersistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles_cache.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first open error: %v", err)
	}
	id := testID()
	if err := first.Upsert(context.Background(), id, []byte("persisted")); err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	// 重新打开已有文件不应报错，且数据仍在。
	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer second.Close()

	data, ok, err := second.Lookup(context.Background(), id)
	if err != nil || !ok || string(data) != "persisted" {
		t.Fatalf("重开后数据应保留: ok=%v err=%v", ok, err)
	}
}

func TestSchemaMatchesLegacyLayout(t *testing.T) {
	st := newTestStore(t)
	raw := st.(*sqliteStore)

	rows, err := raw.db.Query(`PRAGMA table_info(Tiles);`)
	if err != nil {
		t.Fatalf("table_info error: %v", err)
	}
	defer rows.Close()

	got := map[string]string{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			t.Fatalf("scan error: %v", err)
		}
		got[name] = typ
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows error: %v", err)
	}

	expected := map[string]string{
		"id":            "INTEGER",
		"zoom_level":    "INTEGER",
		"tile_x":        "INTEGER",
		"tile_y":        "INTEGER",
		"tile_provider": "TEXT",
		"tile_data":     "BLOB",
	}
	for column, typ := range expected {
		if got[column] != typ {
			t.Fatalf("列 %s 类型应为 %s, got %q", column, typ, got[column])
		}
	}
}

func TestConcurrentUpsertsSameKey(t *testing.T) {
	st := newTestStore(t)
	id := testID()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload := []byte{byte(n)}
			if err := st.Upsert(context.Background(), id, payload); err != nil {
				t.Errorf("concurrent upsert error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	_, ok, err := st.Lookup(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("并发写入后应可读取: ok=%v err=%v", ok, err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("空路径应返回错误")
	}
}

func testID() tile.ID {
	return tile.ID{Zoom: 3, X: 1, Y: 2, Provider: "tiles.example.com"}
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "tiles_cache.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}
