package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/cache"
	"github.com/tripcache/tripcache/internal/policy"
)

// OfflineStatusText 是合成 503 的状态文本。
const OfflineStatusText = "Service Unavailable (offline)"

var offlineBody = []byte(`{"error":"offline_unavailable"}`)

// serving 是单次请求在某个代际下的执行上下文。
type serving struct {
	req      *Request
	key      cache.RequestKey
	decision policy.Decision
	tag      string
	name     string
	store    cache.Store
}

func (p *Proxy) serve(ctx context.Context, req *Request) (*Response, error) {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()

	tag, ok := p.servingTag()
	if !ok {
		return p.passthrough(ctx, req, policy.Decision{})
	}

	decision := p.engine.Classify(policy.Request{
		Method:   req.Method,
		URL:      req.URL,
		Navigate: policy.IsNavigation(req.Method, req.Header),
	})
	if !decision.Eligible {
		return p.passthrough(ctx, req, decision)
	}

	s := &serving{
		req:      req,
		key:      cache.NewRequestKey(req.Method, req.URL),
		decision: decision,
		tag:      tag,
		name:     policy.StoreName(decision.Store, tag),
	}
	store, err := p.storage.Open(ctx, s.name)
	if err != nil {
		// 存储不可用时退化为仅走网络
		p.logger.WithError(err).WithFields(logrus.Fields{"action": "proxy", "store": s.name}).Warn("cache_open_failed")
	} else {
		s.store = store
	}

	var resp *Response
	switch decision.Strategy.Kind {
	case policy.KindCacheFirst:
		resp, err = p.cacheFirst(ctx, s)
	case policy.KindBoundedTTL:
		resp, err = p.boundedTTL(ctx, s)
	default:
		resp, err = p.networkFirst(ctx, s)
	}
	if resp != nil {
		resp.Decision = decision
		resp.Store = s.name
		resp.Tag = tag
	}
	return resp, err
}

// cacheFirst：命中直接返回；否则回源，2xx 写回；网络失败且无缓存时返回合成 503。
func (p *Proxy) cacheFirst(ctx context.Context, s *serving) (*Response, error) {
	if entry := p.lookup(ctx, s.store, s.key); entry != nil {
		return fromEntry(entry, SourceCache), nil
	}
	resp, err := p.fetcher.Fetch(ctx, s.req)
	if err != nil {
		if !IsNetworkError(err) {
			return nil, err
		}
		p.logNetworkFallback(s, err)
		return p.offline(s), nil
	}
	p.writeBack(ctx, s, resp)
	return resp, nil
}

// networkFirst：优先网络；网络失败时依次尝试已存条目、根文档（仅导航）、合成 503。
func (p *Proxy) networkFirst(ctx context.Context, s *serving) (*Response, error) {
	resp, err := p.fetcher.Fetch(ctx, s.req)
	if err == nil {
		p.writeBack(ctx, s, resp)
		return resp, nil
	}
	if !IsNetworkError(err) {
		return nil, err
	}
	p.logNetworkFallback(s, err)

	if entry := p.lookup(ctx, s.store, s.key); entry != nil {
		return fromEntry(entry, SourceFallback), nil
	}
	if s.decision.DocumentFallback {
		if entry := p.rootDocument(ctx, s.tag); entry != nil {
			return fromEntry(entry, SourceFallback), nil
		}
	}
	return p.offline(s), nil
}

// boundedTTL：cached-at 在 MaxAge 内直接返回；否则回源并打时间戳写回；
// 网络失败时返回过期条目，没有条目则返回合成 503。
func (p *Proxy) boundedTTL(ctx context.Context, s *serving) (*Response, error) {
	entry := p.lookup(ctx, s.store, s.key)
	if entry != nil && cache.IsFresh(entry, s.decision.Strategy.MaxAge, p.now()) {
		return fromEntry(entry, SourceCache), nil
	}

	resp, err := p.fetcher.Fetch(ctx, s.req)
	if err == nil {
		p.writeBack(ctx, s, resp)
		return resp, nil
	}
	if !IsNetworkError(err) {
		return nil, err
	}
	p.logNetworkFallback(s, err)

	if entry != nil {
		return fromEntry(entry, SourceStale), nil
	}
	return p.offline(s), nil
}

// passthrough 原样转发请求，不读写任何缓存。
func (p *Proxy) passthrough(ctx context.Context, req *Request, decision policy.Decision) (*Response, error) {
	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Source = SourcePassthrough
	resp.Decision = decision
	return resp, nil
}

// lookup 读取缓存条目。未命中与存储错误都返回 nil，后者记录日志。
func (p *Proxy) lookup(ctx context.Context, store cache.Store, key cache.RequestKey) *cache.Entry {
	if store == nil {
		return nil
	}
	entry, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"action": "proxy",
				"store":  store.Name(),
				"key":    key.String(),
			}).Warn("cache_get_failed")
		}
		return nil
	}
	return entry
}

// rootDocument 查找根文档：先 static-assets，再 dynamic-responses。
func (p *Proxy) rootDocument(ctx context.Context, tag string) *cache.Entry {
	key := cache.NewRequestKey(http.MethodGet, &url.URL{Path: "/"})
	for _, kind := range []policy.StoreKind{policy.StoreStatic, policy.StoreDynamic} {
		store, err := p.storage.Open(ctx, policy.StoreName(kind, tag))
		if err != nil {
			continue
		}
		if entry := p.lookup(ctx, store, key); entry != nil {
			return entry
		}
	}
	return nil
}

// writeBack 在 2xx 时写入缓存；写入失败只记录日志。
func (p *Proxy) writeBack(ctx context.Context, s *serving, resp *Response) {
	resp.Source = SourceNetwork
	if s.store == nil || !isStorable(resp.Status) {
		return
	}
	_ = p.write(ctx, s.store, s.key, resp)
}

// write 打上 cached-at 时间戳并写入 store。
func (p *Proxy) write(ctx context.Context, store cache.Store, key cache.RequestKey, resp *Response) error {
	entry := &cache.Entry{
		Key:    key,
		Status: resp.Status,
		Header: resp.Header.Clone(),
		Body:   append([]byte(nil), resp.Body...),
	}
	cache.Stamp(entry, p.now())
	if err := store.Put(ctx, key, entry); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"action": "proxy",
			"store":  store.Name(),
			"key":    key.String(),
		}).Warn("cache_put_failed")
		return err
	}
	return nil
}

func (p *Proxy) logNetworkFallback(s *serving, err error) {
	p.logger.WithError(err).WithFields(logrus.Fields{
		"action":   "proxy",
		"store":    s.name,
		"strategy": s.decision.Strategy.String(),
		"key":      s.key.String(),
	}).Debug("network_unavailable")
}

func isStorable(status int) bool {
	return status >= 200 && status < 300
}

func fromEntry(entry *cache.Entry, source Source) *Response {
	return &Response{
		Status:   entry.Status,
		Header:   entry.Header.Clone(),
		Body:     entry.Body,
		Source:   source,
		CacheHit: true,
	}
}

// offline 记录缺失条目并返回合成 503。
func (p *Proxy) offline(s *serving) *Response {
	missing := &NotFoundError{Key: s.key, Store: s.name}
	p.logger.WithFields(logrus.Fields{
		"action":   "proxy",
		"store":    s.name,
		"strategy": s.decision.Strategy.String(),
	}).Info(missing.Error())
	return offlineResponse()
}

func offlineResponse() *Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: OfflineStatusText,
		Header:     header,
		Body:       append([]byte(nil), offlineBody...),
		Source:     SourceOffline,
	}
}
