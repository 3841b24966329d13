package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteFileName 是 sqlite 后端在 StoragePath 下使用的数据库文件名。
const SQLiteFileName = "tripcache.db"

const (
	storesTable  = "tripcache_stores"
	entriesTable = "tripcache_entries"
)

// sqlStorage 将全部命名 Store 放在同一个 sqlite 数据库中，条目以 (store, key) 为主键。
type sqlStorage struct {
	db *sql.DB
}

// NewSQLiteStorage 打开（必要时创建）basePath/tripcache.db 并初始化表结构。
func NewSQLiteStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	dbPath := filepath.Join(basePath, SQLiteFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite cache at %q: %w", dbPath, err)
	}
	// 单连接避免 "database is locked"
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite cache at %q: %w", dbPath, err)
	}

	for _, query := range createTableQueries() {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create cache tables: %w", err)
		}
	}

	return &sqlStorage{db: db}, nil
}

func createTableQueries() []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY
			);`, storesTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				store_name TEXT NOT NULL,
				request_key TEXT NOT NULL,
				status INTEGER NOT NULL,
				header BLOB NOT NULL,
				body BLOB NOT NULL,
				cached_at INTEGER NOT NULL,
				PRIMARY KEY (store_name, request_key)
			);`, entriesTable),
	}
}

func (s *sqlStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateStoreName(name); err != nil {
		return nil, wrapErr("open", name, err)
	}
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (name) VALUES (?)`, storesTable)
	if _, err := s.db.ExecContext(ctx, query, name); err != nil {
		return nil, wrapErr("open", name, err)
	}
	return &sqlStore{db: s.db, name: name}, nil
}

func (s *sqlStorage) StoreNames(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, storesTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("list", "", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr("list", "", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list", "", err)
	}
	return names, nil
}

func (s *sqlStorage) DeleteStore(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete_store", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE store_name = ?`, entriesTable), name); err != nil {
		return wrapErr("delete_store", name, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, storesTable), name); err != nil {
		return wrapErr("delete_store", name, err)
	}
	return wrapErr("delete_store", name, tx.Commit())
}

// Usage 使用 page_count * page_size 估算数据库文件大小。
func (s *sqlStorage) Usage(ctx context.Context) (int64, error) {
	var size int64
	row := s.db.QueryRowContext(ctx, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&size); err != nil {
		return 0, wrapErr("usage", "", err)
	}
	return size, nil
}

func (s *sqlStorage) Close() error {
	return s.db.Close()
}

type sqlStore struct {
	db   *sql.DB
	name string
}

func (s *sqlStore) Name() string {
	return s.name
}

func (s *sqlStore) Get(ctx context.Context, key RequestKey) (*Entry, error) {
	query := fmt.Sprintf(`SELECT status, header, body FROM %s WHERE store_name = ? AND request_key = ?`, entriesTable)
	var (
		status int
		header []byte
		body   []byte
	)
	err := s.db.QueryRowContext(ctx, query, s.name, key.String()).Scan(&status, &header, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get", s.name, err)
	}

	entry := &Entry{Key: key, Status: status, Body: body}
	if err := json.Unmarshal(header, &entry.Header); err != nil {
		return nil, wrapErr("get", s.name, fmt.Errorf("corrupted cache entry: %w", err))
	}
	return entry, nil
}

func (s *sqlStore) Put(ctx context.Context, key RequestKey, entry *Entry) error {
	if entry == nil {
		return wrapErr("put", s.name, errors.New("nil entry"))
	}
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return wrapErr("put", s.name, err)
	}
	cachedAt, _ := CachedAt(entry)
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("put", s.name, err)
	}
	defer tx.Rollback()

	// 与 DeleteStore 并发时保证 store 行存在
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (name) VALUES (?)`, storesTable), s.name); err != nil {
		return wrapErr("put", s.name, err)
	}
	upsert := fmt.Sprintf(`INSERT OR REPLACE INTO %s (store_name, request_key, status, header, body, cached_at) VALUES (?, ?, ?, ?, ?, ?)`, entriesTable)
	if _, err := tx.ExecContext(ctx, upsert, s.name, key.String(), entry.Status, header, body, cachedAt); err != nil {
		return wrapErr("put", s.name, err)
	}
	return wrapErr("put", s.name, tx.Commit())
}

func (s *sqlStore) Delete(ctx context.Context, key RequestKey) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE store_name = ? AND request_key = ?`, entriesTable)
	res, err := s.db.ExecContext(ctx, query, s.name, key.String())
	if err != nil {
		return false, wrapErr("delete", s.name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("delete", s.name, err)
	}
	return affected > 0, nil
}

func (s *sqlStore) Keys(ctx context.Context) ([]RequestKey, error) {
	query := fmt.Sprintf(`SELECT request_key FROM %s WHERE store_name = ? ORDER BY request_key`, entriesTable)
	rows, err := s.db.QueryContext(ctx, query, s.name)
	if err != nil {
		return nil, wrapErr("keys", s.name, err)
	}
	defer rows.Close()

	var keys []RequestKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr("keys", s.name, err)
		}
		key, err := splitRequestKey(raw)
		if err != nil {
			return nil, wrapErr("keys", s.name, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("keys", s.name, err)
	}
	return keys, nil
}
