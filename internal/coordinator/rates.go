package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tripcache/tripcache/internal/config"
)

// DefaultStaleAfter 是前台汇率被视为过期的默认阈值。
const DefaultStaleAfter = config.DefaultFXStaleAfter

// sourceHeader 与代理写回的来源头保持一致。
const sourceHeader = "X-Tripcache-Source"

// RateEntry 是一条展示用汇率。AsOf 来自数据源日期而非抓取时间。
type RateEntry struct {
	Base     string    `json:"base"`
	Quote    string    `json:"quote"`
	Rate     float64   `json:"rate"`
	AsOf     time.Time `json:"as_of"`
	Stale    bool      `json:"stale"`
	Fallback bool      `json:"fallback"`
}

// Convert 按汇率换算金额。
func (e RateEntry) Convert(amount float64) float64 {
	return amount * e.Rate
}

// Label 返回展示用的新鲜度标记，新鲜数据为空。
func (e RateEntry) Label() string {
	switch {
	case e.Fallback && e.Stale:
		return "offline, stale"
	case e.Fallback:
		return "offline"
	case e.Stale:
		return "stale"
	default:
		return ""
	}
}

// ErrRateUnavailable 表示代理既无网络也无缓存可用。
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// rateDocument 是上游汇率资源的响应体。
type rateDocument struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// RateSource 经代理读取汇率，并按数据日期打上过期标记。
type RateSource struct {
	client     *http.Client
	baseURL    *url.URL
	staleAfter time.Duration
	now        func() time.Time
}

// NewRateSource 构建 RateSource；staleAfter<=0 时使用 48h。
func NewRateSource(client *http.Client, proxyURL string, staleAfter time.Duration) (*RateSource, error) {
	parsed, err := url.Parse(strings.TrimSpace(proxyURL))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid proxy url: %q", proxyURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &RateSource{client: client, baseURL: parsed, staleAfter: staleAfter, now: time.Now}, nil
}

// Fetch 请求 /api/fx?base=&quote= 并返回对应汇率。
func (s *RateSource) Fetch(ctx context.Context, base, quote string) (RateEntry, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return RateEntry{}, errors.New("base and quote are required")
	}
	if base == quote {
		return RateEntry{Base: base, Quote: quote, Rate: 1, AsOf: s.now().UTC()}, nil
	}

	target := s.baseURL.ResolveReference(&url.URL{
		Path:     "/api/fx",
		RawQuery: url.Values{"base": {base}, "quote": {quote}}.Encode(),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return RateEntry{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return RateEntry{}, fmt.Errorf("fetch rate %s/%s: %w", base, quote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return RateEntry{}, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, base, quote)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RateEntry{}, fmt.Errorf("fetch rate %s/%s: unexpected status %d", base, quote, resp.StatusCode)
	}

	var doc rateDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return RateEntry{}, fmt.Errorf("decode rate %s/%s: %w", base, quote, err)
	}
	if doc.Base != "" && !strings.EqualFold(doc.Base, base) {
		return RateEntry{}, fmt.Errorf("rate document base %s does not match %s", doc.Base, base)
	}
	rate, ok := lookupRate(doc.Rates, quote)
	if !ok {
		return RateEntry{}, fmt.Errorf("rate document has no %s quote", quote)
	}
	asOf, err := parseRateDate(doc.Date)
	if err != nil {
		return RateEntry{}, fmt.Errorf("decode rate %s/%s: %w", base, quote, err)
	}

	source := resp.Header.Get(sourceHeader)
	return RateEntry{
		Base:     base,
		Quote:    quote,
		Rate:     rate,
		AsOf:     asOf,
		Stale:    s.now().Sub(asOf) > s.staleAfter,
		Fallback: source == "stale" || source == "fallback",
	}, nil
}

func lookupRate(rates map[string]float64, quote string) (float64, bool) {
	if rate, ok := rates[quote]; ok {
		return rate, true
	}
	for code, rate := range rates {
		if strings.EqualFold(code, quote) {
			return rate, true
		}
	}
	return 0, false
}

// parseRateDate 支持纯日期与 RFC3339 两种格式。
func parseRateDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing date")
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t.UTC(), nil
}
