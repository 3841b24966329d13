package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Path 是代理进程暴露的控制端点。
const Path = "/-/control"

// Channel 是前台到代理的请求/响应通道，每次 Post 恰好对应一个 Reply。
type Channel interface {
	Post(ctx context.Context, msg Message) (Reply, error)
}

// HTTPChannel 通过 POST /-/control 与独立运行的代理进程通信。
type HTTPChannel struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPChannel 使用默认超时构建 HTTP 通道。
func NewHTTPChannel(baseURL string) *HTTPChannel {
	return &HTTPChannel{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Post 发送消息并解析响应。传输失败返回 error；命令失败体现在 Reply 中。
func (c *HTTPChannel) Post(ctx context.Context, msg Message) (Reply, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Reply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+Path, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("control channel: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("control channel: read reply: %w", err)
	}

	var reply Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return Reply{}, fmt.Errorf("control channel: decode reply (status %d): %w", resp.StatusCode, err)
	}
	if reply.Success == nil && reply.Size == nil {
		return Reply{}, fmt.Errorf("control channel: empty reply (status %d)", resp.StatusCode)
	}
	return reply, nil
}
