package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tripcache/tripcache/internal/server"
)

// maxBodyBytes 限制单个响应体读入内存的大小。
const maxBodyBytes = 64 << 20

// Fetcher 负责真正的网络访问。传输层失败必须返回 *NetworkError。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPFetcher 将相对路径请求解析到上游站点，并通过共享 http.Client 发出。
type HTTPFetcher struct {
	client   *http.Client
	upstream *url.URL
	maxBody  int64
}

// NewHTTPFetcher 校验上游地址并构建 Fetcher。
func NewHTTPFetcher(client *http.Client, upstream string) (*HTTPFetcher, error) {
	parsed, err := url.Parse(strings.TrimSpace(upstream))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream: %q", upstream)
	}
	if client == nil {
		client = server.NewUpstreamClient(nil)
	}
	return &HTTPFetcher{client: client, upstream: parsed, maxBody: maxBodyBytes}, nil
}

// Fetch 发出请求并完整读取响应体。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	target := f.resolve(req.URL)
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target.String(), Err: err}
	}
	if req.Header != nil {
		server.CopyHeaders(upstreamReq.Header, req.Header)
	}
	// 缓存中只保存解码后的正文
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Header.Del("Host")
	upstreamReq.Host = target.Host

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	// 多读一个字节用于识别超限正文，截断的正文不能当作完整响应写入缓存
	payload, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target.String(), Err: err}
	}
	if int64(len(payload)) > f.maxBody {
		return nil, &NetworkError{Method: method, URL: target.String(), Err: ErrBodyTooLarge}
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
		Source: SourceNetwork,
	}, nil
}

func (f *HTTPFetcher) resolve(u *url.URL) *url.URL {
	if u == nil {
		return f.upstream
	}
	relative := &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery}
	base := *f.upstream
	if base.Path != "" && base.Path != "/" {
		relative.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
		relative.RawPath = ""
	}
	base.Path = ""
	base.RawPath = ""
	return base.ResolveReference(relative)
}
