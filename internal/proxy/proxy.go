package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/cache"
	"github.com/tripcache/tripcache/internal/control"
	"github.com/tripcache/tripcache/internal/policy"
)

// Source 标记一次响应的来源，写入 X-Tripcache-Source 响应头。
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceStale       Source = "stale"
	SourceFallback    Source = "fallback"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// Request 是代理内部使用的请求视图，与具体 HTTP 框架无关。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Response 是策略执行的结果。
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte

	Source   Source
	CacheHit bool
	Decision policy.Decision
	Store    string
	Tag      string
}

// EventKind 是派发表的键。
type EventKind string

const (
	EventInstall  EventKind = "install"
	EventActivate EventKind = "activate"
	EventFetch    EventKind = "fetch"
	EventMessage  EventKind = "message"
)

// Event 是投递给 Dispatch 的事件，不同 Kind 使用不同字段。
type Event struct {
	Kind    EventKind
	Tag     string
	Request *Request
	Command control.Command
}

type handlerFunc func(ctx context.Context, ev Event) (*Response, error)

// Options 描述构建 Proxy 所需的依赖。
type Options struct {
	Storage         cache.Storage
	Engine          *policy.Engine
	Catalog         *policy.Catalog
	Fetcher         Fetcher
	Logger          *logrus.Logger
	GenerationTag   string
	PackConcurrency int
	Clock           func() time.Time
}

// Proxy 持有缓存代理的全部显式状态：当前代际、存储、策略引擎与生命周期。
// 生命周期写锁由 Activate 持有，读锁由每次请求处理持有，两者不会重叠。
type Proxy struct {
	storage     cache.Storage
	engine      *policy.Engine
	catalog     *policy.Catalog
	fetcher     Fetcher
	logger      *logrus.Logger
	now         func() time.Time
	concurrency int
	initialTag  string

	lifecycle sync.RWMutex
	upgradeMu sync.Mutex

	mu         sync.Mutex
	state      State
	currentTag string
	pendingTag string

	handlers map[EventKind]handlerFunc
	jobs     sync.WaitGroup
}

// New 校验依赖并构建 Proxy，初始状态为 StateNew。
func New(opts Options) (*Proxy, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("policy engine is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = policy.NewCatalog(nil, nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.PackConcurrency <= 0 {
		opts.PackConcurrency = 4
	}

	p := &Proxy{
		storage:     opts.Storage,
		engine:      opts.Engine,
		catalog:     opts.Catalog,
		fetcher:     opts.Fetcher,
		logger:      opts.Logger,
		now:         opts.Clock,
		concurrency: opts.PackConcurrency,
		initialTag:  opts.GenerationTag,
		state:       StateNew,
	}
	p.handlers = map[EventKind]handlerFunc{
		EventInstall:  p.onInstall,
		EventActivate: p.onActivate,
		EventFetch:    p.onFetch,
		EventMessage:  p.onMessage,
	}
	return p, nil
}

// Dispatch 按事件类型路由到对应处理函数。
func (p *Proxy) Dispatch(ctx context.Context, ev Event) (*Response, error) {
	handler, ok := p.handlers[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind: %q", ev.Kind)
	}
	return handler(ctx, ev)
}

// Serve 是 fetch 事件的便捷入口。
func (p *Proxy) Serve(ctx context.Context, req *Request) (*Response, error) {
	return p.Dispatch(ctx, Event{Kind: EventFetch, Request: req})
}

// Start 安装并激活配置中的初始代际。安装失败不阻止激活。
func (p *Proxy) Start(ctx context.Context) error {
	return p.Upgrade(ctx, p.initialTag)
}

// Wait 等待所有控制命令执行完毕。
func (p *Proxy) Wait() {
	p.jobs.Wait()
}

func (p *Proxy) onInstall(ctx context.Context, ev Event) (*Response, error) {
	return nil, p.Install(ctx, ev.Tag)
}

func (p *Proxy) onActivate(ctx context.Context, _ Event) (*Response, error) {
	return nil, p.Activate(ctx)
}

func (p *Proxy) onFetch(ctx context.Context, ev Event) (*Response, error) {
	if ev.Request == nil {
		return nil, errors.New("fetch event without request")
	}
	return p.serve(ctx, ev.Request)
}

func (p *Proxy) onMessage(_ context.Context, ev Event) (*Response, error) {
	p.startJob(ev.Command)
	return nil, nil
}
