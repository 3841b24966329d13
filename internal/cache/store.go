package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Storage 管理一组按名称区分的持久化 Store。每个 Store 对应一个
// “{kind}-{generation tag}” 名称，整个进程共享一份 Storage 实例。
type Storage interface {
	// Open 返回指定名称的 Store，不存在时自动创建。
	Open(ctx context.Context, name string) (Store, error)

	// StoreNames 返回当前所有 Store 名称（按字典序）。
	StoreNames(ctx context.Context) ([]string, error)

	// DeleteStore 删除整个 Store 及其全部条目，Store 不存在时视为成功。
	DeleteStore(ctx context.Context, name string) error

	// Close 释放底层资源。
	Close() error
}

// Store 提供单个命名缓存内按请求标识的读写能力。实现需保证单个 key 的写入是原子的，
// 并发写同一 key 时以最后一次写入为准。
type Store interface {
	Name() string

	// Get 返回缓存条目；不存在时返回 ErrNotFound。
	Get(ctx context.Context, key RequestKey) (*Entry, error)

	// Put 写入或覆盖缓存条目。
	Put(ctx context.Context, key RequestKey, entry *Entry) error

	// Delete 删除条目，返回删除前该条目是否存在。
	Delete(ctx context.Context, key RequestKey) (bool, error)

	// Keys 返回 Store 内全部请求标识（按字典序）。
	Keys(ctx context.Context) ([]RequestKey, error)
}

// UsageEstimator 是可选能力：后端能够估算已占用的字节数时实现该接口。
type UsageEstimator interface {
	Usage(ctx context.Context) (int64, error)
}

// RequestKey 唯一标识一个缓存条目：方法 + 归一化后的 URL（路径 + 排序后的查询串）。
type RequestKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewRequestKey 对 URL 做归一化：清理路径、按参数名排序查询串，丢弃 scheme/host/fragment。
// 路径保留转义形式，编码过的 "?" 不会与查询串混淆。
func NewRequestKey(method string, u *url.URL) RequestKey {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if u == nil {
		return RequestKey{Method: method, URL: "/"}
	}
	clean := path.Clean("/" + u.EscapedPath())
	if query := u.Query(); len(query) > 0 {
		clean += "?" + query.Encode()
	}
	return RequestKey{Method: method, URL: clean}
}

// ParseRequestKey 解析 String() 输出的 "METHOD URL" 形式。
func ParseRequestKey(raw string) (RequestKey, error) {
	method, rawURL, ok := strings.Cut(strings.TrimSpace(raw), " ")
	if !ok || method == "" || rawURL == "" {
		return RequestKey{}, fmt.Errorf("invalid request key: %q", raw)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return RequestKey{}, fmt.Errorf("invalid request key url: %w", err)
	}
	return NewRequestKey(method, u), nil
}

// splitRequestKey 还原已归一化的 String() 输出，不再重新归一化。
func splitRequestKey(raw string) (RequestKey, error) {
	method, rawURL, ok := strings.Cut(raw, " ")
	if !ok || method == "" || rawURL == "" {
		return RequestKey{}, fmt.Errorf("invalid request key: %q", raw)
	}
	return RequestKey{Method: method, URL: rawURL}, nil
}

func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// Entry 是一次已存储的响应：状态码、响应头与正文。cached-at 时间戳以响应头形式注入，
// 见 Stamp / CachedAt。
type Entry struct {
	Key    RequestKey  `json:"key"`
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"-"`
}

// Clone 返回深拷贝，避免调用方修改共享的 Header/Body。
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		Key:    e.Key,
		Status: e.Status,
		Header: e.Header.Clone(),
		Body:   append([]byte(nil), e.Body...),
	}
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// StorageError 表示存储层不可用（配额、损坏、IO 失败等）。调用方应将其视为非致命错误，
// 并退化为仅走网络。
type StorageError struct {
	Op    string
	Store string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Store == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Store, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrapErr 把底层错误包装为 StorageError，ErrNotFound 与 context 错误原样返回。
func wrapErr(op, store string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Store: store, Err: err}
}

func validateStoreName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("store name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid store name: %q", name)
	}
	return nil
}
