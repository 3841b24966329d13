package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/cache"
	"github.com/tripcache/tripcache/internal/policy"
)

var errOffline = errors.New("dial tcp: network is unreachable")

type fakeResponse struct {
	status int
	body   string
	header http.Header
}

// fakeUpstream 以归一化 URL 为键返回预设响应，可整体或按资源模拟断网。
type fakeUpstream struct {
	mu        sync.Mutex
	offline   bool
	responses map[string]fakeResponse
	failing   map[string]bool
	calls     map[string]int
	lastBody  []byte
	panicOn   string

	// hold 命中的资源在 release 关闭前阻塞，进入时通知 entered
	hold    string
	entered chan struct{}
	release chan struct{}
}

func (f *fakeUpstream) holdOn(rawURL string) (entered, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = normalize(rawURL)
	f.entered = make(chan struct{}, 1)
	f.release = make(chan struct{})
	return f.entered, f.release
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		responses: make(map[string]fakeResponse),
		failing:   make(map[string]bool),
		calls:     make(map[string]int),
	}
}

func (f *fakeUpstream) set(rawURL string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[normalize(rawURL)] = fakeResponse{status: status, body: body}
}

func (f *fakeUpstream) fail(rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[normalize(rawURL)] = true
}

func (f *fakeUpstream) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeUpstream) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[normalize(rawURL)]
}

func (f *fakeUpstream) Fetch(_ context.Context, req *Request) (*Response, error) {
	key := cache.NewRequestKey(req.Method, req.URL).URL

	f.mu.Lock()
	if f.hold != "" && f.hold == key {
		entered, release := f.entered, f.release
		f.mu.Unlock()
		entered <- struct{}{}
		<-release
		f.mu.Lock()
	}
	defer f.mu.Unlock()
	f.calls[key]++
	f.lastBody = append([]byte(nil), req.Body...)
	if f.panicOn != "" && f.panicOn == key {
		panic("upstream exploded")
	}
	if f.offline || f.failing[key] {
		return nil, &NetworkError{Method: req.Method, URL: key, Err: errOffline}
	}
	resp, ok := f.responses[key]
	if !ok {
		return &Response{Status: http.StatusNotFound, Header: http.Header{}, Body: []byte("not found")}, nil
	}
	header := resp.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/plain")
	}
	return &Response{Status: resp.status, Header: header, Body: []byte(resp.body)}, nil
}

func normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return cache.NewRequestKey(http.MethodGet, u).URL
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	proxy    *Proxy
	upstream *fakeUpstream
	clock    *fakeClock
	storage  cache.Storage
}

type envOption func(*Options)

func withManifest(paths ...string) envOption {
	return func(o *Options) {
		o.Engine = policy.NewEngine(policy.Options{StaticManifest: paths})
	}
}

func withStorage(storage cache.Storage) envOption {
	return func(o *Options) {
		o.Storage = storage
	}
}

func newTestEnv(t *testing.T, tag string, opts ...envOption) *testEnv {
	t.Helper()

	storage, err := cache.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	upstream := newFakeUpstream()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	options := Options{
		Storage:         storage,
		Engine:          policy.NewEngine(policy.Options{}),
		Catalog:         policy.NewCatalog(nil, []string{"USD", "EUR"}),
		Fetcher:         upstream,
		Logger:          logger,
		GenerationTag:   tag,
		PackConcurrency: 2,
		Clock:           clock.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	p, err := New(options)
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}
	t.Cleanup(p.Wait)
	return &testEnv{proxy: p, upstream: upstream, clock: clock, storage: options.Storage}
}

func (e *testEnv) get(t *testing.T, rawURL string, header http.Header) *Response {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if header == nil {
		header = http.Header{}
	}
	resp, err := e.proxy.Serve(context.Background(), &Request{Method: http.MethodGet, URL: u, Header: header})
	if err != nil {
		t.Fatalf("serve %s: %v", rawURL, err)
	}
	return resp
}

func (e *testEnv) keys(t *testing.T, storeName string) []cache.RequestKey {
	t.Helper()
	store, err := e.storage.Open(context.Background(), storeName)
	if err != nil {
		t.Fatalf("open %s: %v", storeName, err)
	}
	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys %s: %v", storeName, err)
	}
	return keys
}

func navigationHeader() http.Header {
	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml")
	header.Set("Sec-Fetch-Mode", "navigate")
	return header
}
