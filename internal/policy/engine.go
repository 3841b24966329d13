package policy

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// StrategyKind 描述一次请求的取数顺序。
type StrategyKind string

const (
	KindCacheFirst   StrategyKind = "cache-first"
	KindNetworkFirst StrategyKind = "network-first"
	KindBoundedTTL   StrategyKind = "bounded-ttl"
)

// Strategy 是策略种类 + 可选的最大存活时间（仅 BoundedTTL 使用）。
type Strategy struct {
	Kind   StrategyKind
	MaxAge time.Duration
}

func (s Strategy) String() string {
	if s.Kind == KindBoundedTTL {
		return string(s.Kind) + "(" + s.MaxAge.String() + ")"
	}
	return string(s.Kind)
}

func CacheFirst() Strategy   { return Strategy{Kind: KindCacheFirst} }
func NetworkFirst() Strategy { return Strategy{Kind: KindNetworkFirst} }

// BoundedTTL 在 maxAge 内直接返回缓存，超出后尝试网络。
func BoundedTTL(maxAge time.Duration) Strategy {
	return Strategy{Kind: KindBoundedTTL, MaxAge: maxAge}
}

// StoreKind 是命名缓存的类别，最终名称为 "{kind}-{tag}"。
type StoreKind string

const (
	StoreStatic  StoreKind = "static-assets"
	StoreDynamic StoreKind = "dynamic-responses"
	StorePacks   StoreKind = "country-packs"
)

// StoreKinds 列出每个代际拥有的全部缓存类别。
var StoreKinds = []StoreKind{StoreStatic, StoreDynamic, StorePacks}

// StoreName 组合代际标签与类别。
func StoreName(kind StoreKind, tag string) string {
	return string(kind) + "-" + tag
}

// CurrentStoreNames 返回某代际下全部三类缓存名称。
func CurrentStoreNames(tag string) []string {
	names := make([]string, 0, len(StoreKinds))
	for _, kind := range StoreKinds {
		names = append(names, StoreName(kind, tag))
	}
	return names
}

// Request 是分类所需的最小请求视图。
type Request struct {
	Method   string
	URL      *url.URL
	Navigate bool
}

// Decision 是 Classify 的结果。Eligible=false 时其余字段无意义，请求应原样透传。
type Decision struct {
	Eligible         bool
	Strategy         Strategy
	Store            StoreKind
	DocumentFallback bool
	Rule             string
}

// 规则名称，出现在日志与响应头中。
const (
	RuleNonGet         = "non-get"
	RuleCountryPack    = "country-pack"
	RuleAPI            = "api"
	RuleStaticManifest = "static-manifest"
	RuleNavigation     = "navigation"
	RuleDefault        = "default"
)

type rule struct {
	name     string
	matches  func(Request) bool
	decision Decision
}

// Options 控制 Engine 的可配置部分。
type Options struct {
	StaticManifest []string
	PackTTL        time.Duration
}

// DefaultPackTTL 是国家包资源的默认有效期。
const DefaultPackTTL = 7 * 24 * time.Hour

// Engine 持有有序规则表，按顺序匹配，首个命中即返回。
type Engine struct {
	rules    []rule
	manifest []string
	static   map[string]struct{}
}

// NewEngine 根据静态清单与国家包 TTL 构建规则表。
func NewEngine(opts Options) *Engine {
	ttl := opts.PackTTL
	if ttl <= 0 {
		ttl = DefaultPackTTL
	}

	e := &Engine{static: make(map[string]struct{}, len(opts.StaticManifest))}
	for _, entry := range opts.StaticManifest {
		if entry == "" {
			continue
		}
		cleaned := cleanPath(entry)
		if _, dup := e.static[cleaned]; dup {
			continue
		}
		e.static[cleaned] = struct{}{}
		e.manifest = append(e.manifest, cleaned)
	}

	e.rules = []rule{
		{
			name:     RuleNonGet,
			matches:  func(r Request) bool { return !strings.EqualFold(r.Method, http.MethodGet) && r.Method != "" },
			decision: Decision{Eligible: false},
		},
		{
			name:     RuleCountryPack,
			matches:  func(r Request) bool { return IsPackResource(r.URL) },
			decision: Decision{Eligible: true, Strategy: BoundedTTL(ttl), Store: StorePacks},
		},
		{
			name:     RuleAPI,
			matches:  func(r Request) bool { return strings.HasPrefix(requestPath(r), "/api/") },
			decision: Decision{Eligible: true, Strategy: NetworkFirst(), Store: StoreDynamic},
		},
		{
			name:     RuleStaticManifest,
			matches:  func(r Request) bool { _, ok := e.static[requestPath(r)]; return ok },
			decision: Decision{Eligible: true, Strategy: CacheFirst(), Store: StoreStatic},
		},
		{
			name:     RuleNavigation,
			matches:  func(r Request) bool { return r.Navigate },
			decision: Decision{Eligible: true, Strategy: NetworkFirst(), Store: StoreDynamic, DocumentFallback: true},
		},
		{
			name:     RuleDefault,
			matches:  func(Request) bool { return true },
			decision: Decision{Eligible: true, Strategy: NetworkFirst(), Store: StoreDynamic},
		},
	}
	return e
}

// Classify 是纯函数：同一请求始终得到同一决策。
func (e *Engine) Classify(req Request) Decision {
	for _, r := range e.rules {
		if r.matches(req) {
			d := r.decision
			d.Rule = r.name
			return d
		}
	}
	// 默认规则总会命中
	return Decision{Eligible: true, Strategy: NetworkFirst(), Store: StoreDynamic, Rule: RuleDefault}
}

// StaticManifest 返回去重、清理后的静态资源路径。
func (e *Engine) StaticManifest() []string {
	return append([]string(nil), e.manifest...)
}

// IsNavigation 判断请求是否为页面导航：Sec-Fetch-Mode=navigate 或 Accept 含 text/html。
func IsNavigation(method string, header http.Header) bool {
	if method != "" && !strings.EqualFold(method, http.MethodGet) {
		return false
	}
	if strings.EqualFold(header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return strings.Contains(strings.ToLower(header.Get("Accept")), "text/html")
}

func requestPath(r Request) string {
	if r.URL == nil {
		return "/"
	}
	return cleanPath(r.URL.Path)
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}
