package cache

import (
	"fmt"
	"strings"
)

// 支持的存储后端。
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// NewStorage 根据后端名称构建 Storage，空值退回文件系统后端。
func NewStorage(backend, basePath string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFS:
		return NewFileStorage(basePath)
	case BackendSQLite:
		return NewSQLiteStorage(basePath)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s. Must be fs or sqlite", backend)
	}
}
