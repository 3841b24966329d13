package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/logging"
	"github.com/tripcache/tripcache/internal/server"
)

// 代理附加的响应头。
const (
	HeaderSource   = "X-Tripcache-Source"
	HeaderCacheHit = "X-Tripcache-Cache-Hit"
)

// Handler 把 Fiber 请求转换为 fetch 事件，并把结果写回客户端。
type Handler struct {
	proxy  *Proxy
	logger *logrus.Logger
}

// NewHandler 构建 Fiber 适配层。
func NewHandler(p *Proxy, logger *logrus.Logger) *Handler {
	return &Handler{proxy: p, logger: logger}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	req := buildRequest(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := h.invoke(ctx, req)
	if err != nil {
		if rec, ok := err.(*recoveredPanic); ok {
			h.logFailure(req, requestID, started, "proxy_handler_panic", rec)
			return h.writeError(c, requestID, fiber.StatusInternalServerError, "proxy_handler_panic")
		}
		if IsNetworkError(err) {
			h.logFailure(req, requestID, started, "upstream_failed", err)
			return h.writeError(c, requestID, fiber.StatusBadGateway, "upstream_failed")
		}
		h.logFailure(req, requestID, started, "proxy_failed", err)
		return h.writeError(c, requestID, fiber.StatusInternalServerError, "proxy_failed")
	}

	writeResponse(c, resp, requestID)
	h.logResult(req, resp, requestID, started)
	return nil
}

type recoveredPanic struct {
	value interface{}
}

func (r *recoveredPanic) Error() string {
	return fmt.Sprintf("panic: %v", r.value)
}

func (h *Handler) invoke(ctx context.Context, req *Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, &recoveredPanic{value: r}
		}
	}()
	return h.proxy.Serve(ctx, req)
}

func buildRequest(c fiber.Ctx) *Request {
	uri := c.Request().URI()
	u := &url.URL{
		Path:     string(uri.Path()),
		RawQuery: string(uri.QueryString()),
	}

	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})

	return &Request{
		Method: c.Method(),
		URL:    u,
		Header: header,
		Body:   append([]byte(nil), c.Body()...),
	}
}

func writeResponse(c fiber.Ctx, resp *Response, requestID string) {
	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
	c.Set(HeaderSource, string(resp.Source))
	c.Set(HeaderCacheHit, strconv.FormatBool(resp.CacheHit))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	c.Status(resp.Status)
	if resp.StatusText != "" {
		c.Response().Header.SetStatusMessage([]byte(resp.StatusText))
	}
	c.Response().SetBody(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, requestID string, status int, code string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req *Request, resp *Response, requestID string, started time.Time) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(
		resp.Tag,
		resp.Store,
		strategyName(resp),
		resp.Decision.Rule,
		string(resp.Source),
		resp.CacheHit,
	)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["url"] = req.URL.String()
	fields["status"] = resp.Status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func (h *Handler) logFailure(req *Request, requestID string, started time.Time, code string, err error) {
	if h.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":     "proxy",
		"method":     req.Method,
		"url":        req.URL.String(),
		"error":      code,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Error(err.Error())
}

func strategyName(resp *Response) string {
	if !resp.Decision.Eligible {
		return ""
	}
	return resp.Decision.Strategy.String()
}
