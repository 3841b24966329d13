package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	entrySuffix = ".entry"
	tempPattern = ".cache-*"
)

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。磁盘布局：
//
//	<basePath>/<store>/<sha1(key)>.entry   # 首行 JSON 元数据 + 原始正文
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 是 .entry 文件首行的元数据。
type entryMeta struct {
	Key    RequestKey          `json:"key"`
	Status int                 `json:"status"`
	Header map[string][]string `json:"header,omitempty"`
	Size   int64               `json:"size"`
}

func (s *fileStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateStoreName(name); err != nil {
		return nil, wrapErr("open", name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr("open", name, err)
	}
	return &fileStore{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) StoreNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, wrapErr("list", "", err)
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStorage) DeleteStore(ctx context.Context, name string) error {
	if err := validateStoreName(name); err != nil {
		return wrapErr("delete_store", name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.basePath, name)); err != nil {
		return wrapErr("delete_store", name, err)
	}
	return nil
}

// Usage 统计 basePath 下全部文件大小之和。
func (s *fileStorage) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(s.basePath, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, wrapErr("usage", "", err)
	}
	return total, nil
}

func (s *fileStorage) Close() error {
	return nil
}

func (s *fileStorage) lockEntry(storeName string, key RequestKey) func() {
	lockKey := storeName + "::" + key.String()
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

type fileStore struct {
	storage *fileStorage
	name    string
	dir     string
}

func (s *fileStore) Name() string {
	return s.name
}

func (s *fileStore) Get(ctx context.Context, key RequestKey) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("get", s.name, err)
	}

	meta, body, err := decodeEntryFile(data)
	if err != nil {
		return nil, wrapErr("get", s.name, err)
	}
	return &Entry{
		Key:    meta.Key,
		Status: meta.Status,
		Header: meta.Header,
		Body:   body,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, key RequestKey, entry *Entry) error {
	if entry == nil {
		return wrapErr("put", s.name, errors.New("nil entry"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.storage.lockEntry(s.name, key)
	defer unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return wrapErr("put", s.name, err)
	}

	meta, err := json.Marshal(entryMeta{
		Key:    key,
		Status: entry.Status,
		Header: entry.Header,
		Size:   int64(len(entry.Body)),
	})
	if err != nil {
		return wrapErr("put", s.name, err)
	}

	tempFile, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return wrapErr("put", s.name, err)
	}
	tempName := tempFile.Name()

	writeErr := writeEntryFile(tempFile, meta, entry.Body)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return wrapErr("put", s.name, writeErr)
	}

	if err := os.Rename(tempName, s.entryPath(key)); err != nil {
		os.Remove(tempName)
		return wrapErr("put", s.name, err)
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key RequestKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock := s.storage.lockEntry(s.name, key)
	defer unlock()

	if err := os.Remove(s.entryPath(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, wrapErr("delete", s.name, err)
	}
	return true, nil
}

func (s *fileStore) Keys(ctx context.Context) ([]RequestKey, error) {
	items, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapErr("keys", s.name, err)
	}

	keys := make([]RequestKey, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) {
			continue
		}
		meta, err := readEntryMeta(filepath.Join(s.dir, item.Name()))
		if err != nil {
			// 与并发 Delete 竞争时文件可能已消失
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, wrapErr("keys", s.name, err)
		}
		keys = append(keys, meta.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}

func (s *fileStore) entryPath(key RequestKey) string {
	sum := sha1.Sum([]byte(key.String()))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

func writeEntryFile(w io.Writer, meta, body []byte) error {
	if _, err := w.Write(meta); err != nil {
		return err
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	n, err := w.Write(body)
	if err != nil {
		return err
	}
	if n < len(body) {
		return io.ErrShortWrite
	}
	return nil
}

func decodeEntryFile(data []byte) (entryMeta, []byte, error) {
	line, body, ok := bytes.Cut(data, []byte{'\n'})
	if !ok {
		return entryMeta{}, nil, errors.New("corrupted cache entry: missing metadata line")
	}
	var meta entryMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		return entryMeta{}, nil, fmt.Errorf("corrupted cache entry: %w", err)
	}
	if int64(len(body)) != meta.Size {
		return entryMeta{}, nil, fmt.Errorf("corrupted cache entry: size %d != %d", len(body), meta.Size)
	}
	return meta, body, nil
}

func readEntryMeta(filePath string) (entryMeta, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return entryMeta{}, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return entryMeta{}, fmt.Errorf("corrupted cache entry: %w", err)
	}
	var meta entryMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("corrupted cache entry: %w", err)
	}
	return meta, nil
}
