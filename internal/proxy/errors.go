package proxy

import (
	"errors"
	"fmt"

	"github.com/tripcache/tripcache/internal/cache"
)

// ErrNothingToActivate 表示没有已安装待激活的代际。
var ErrNothingToActivate = errors.New("no installed generation to activate")

// ErrNoGeneration 表示代理尚未安装任何代际，无法执行依赖存储的命令。
var ErrNoGeneration = errors.New("no active generation")

// ErrBodyTooLarge 表示上游正文超过内存读取上限，响应不会被缓存。
var ErrBodyTooLarge = errors.New("upstream body exceeds size limit")

// NetworkError 表示上游不可达（连接失败、超时、读取中断）。它会触发缓存回退。
// 上游返回的非 2xx 状态不是 NetworkError。
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NotFoundError 表示网络失败且没有可用的缓存条目，最终转为合成 503。
type NotFoundError struct {
	Key   cache.RequestKey
	Store string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no cached response for %s in %s", e.Key.String(), e.Store)
}

// IsNetworkError 判断 err 链中是否存在 NetworkError。
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
