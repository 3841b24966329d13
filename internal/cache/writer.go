package cache

import (
	"strconv"
	"time"
)

// HeaderCachedAt 记录条目写入时刻（毫秒级 Unix 时间戳），用于 TTL 判定。
const HeaderCachedAt = "X-Tripcache-Cached-At"

// Stamp 注入新的 cached-at 时间戳，覆盖旧值。
func Stamp(entry *Entry, now time.Time) {
	if entry == nil {
		return
	}
	if entry.Header == nil {
		entry.Header = make(map[string][]string)
	}
	entry.Header.Set(HeaderCachedAt, strconv.FormatInt(now.UnixMilli(), 10))
}

// CachedAt 返回条目的 cached-at 毫秒时间戳；缺失或无法解析时 ok=false。
func CachedAt(entry *Entry) (ms int64, ok bool) {
	if entry == nil || entry.Header == nil {
		return 0, false
	}
	raw := entry.Header.Get(HeaderCachedAt)
	if raw == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// IsFresh 判断条目在 maxAge 内是否仍然新鲜：now - cachedAt < maxAge（均为毫秒）。
// 未打时间戳的条目一律视为过期。
func IsFresh(entry *Entry, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	cachedAt, ok := CachedAt(entry)
	if !ok {
		return false
	}
	return now.UnixMilli()-cachedAt < maxAge.Milliseconds()
}
