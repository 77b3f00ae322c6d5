package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/tile-hub/tile-hub/internal/tile"
)

// Store 负责瓦片正文的持久读写。
type Store interface {
	// Lookup 返回指定复合键的正文；未命中时返回 (nil, false, nil)。
	// 存储层故障通过 error 上报，调用方应记录日志并按未命中处理。
	Lookup(ctx context.Context, id tile.ID) ([]byte, bool, error)

	// Upsert 插入或整体替换指定键的正文，同键并发写入时后写获胜。
	Upsert(ctx context.Context, id tile.ID, data []byte) error

	// Close 释放底层数据库连接。
	Close() error
}

// 建表语句兼容历史缓存文件的列名与类型，不可改动。
const createTableSQL = `CREATE TABLE IF NOT EXISTS Tiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	zoom_level INTEGER NOT NULL,
	tile_x INTEGER NOT NULL,
	tile_y INTEGER NOT NULL,
	tile_provider TEXT NOT NULL,
	tile_data BLOB NOT NULL,
	UNIQUE(zoom_level, tile_x, tile_y, tile_provider));`

const (
	lookupSQL = `SELECT tile_data FROM Tiles
		WHERE zoom_level = ? AND tile_x = ? AND tile_y = ? AND tile_provider = ?;`
	upsertSQL = `INSERT OR REPLACE INTO Tiles
		(zoom_level, tile_x, tile_y, tile_provider, tile_data)
		VALUES (?, ?, ?, ?, ?);`
)

// sqliteStore 通过单连接串行化所有读写，
// 避免同键并发 Upsert 破坏唯一约束语义。
type sqliteStore struct {
	db *sql.DB
}

// Open 打开（或创建）SQLite 缓存文件并确保表结构存在，可重复调用。
func Open(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("cache path required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal mode: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tiles table: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Lookup(ctx context.Context, id tile.ID) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, lookupSQL, id.Zoom, id.X, id.Y, id.Provider).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup tile %s: %w", id, err)
	}
	return data, true, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, id tile.ID, data []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertSQL, id.Zoom, id.X, id.Y, id.Provider, data); err != nil {
		return fmt.Errorf("upsert tile %s: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
