package policy

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	packIDPattern      = regexp.MustCompile(`^[A-Z]{2}$`)
	countryConfigRoute = regexp.MustCompile(`^/countries/[A-Za-z]{2}/config$`)
	localeBundleRoute  = regexp.MustCompile(`^/i18n/locales/[A-Za-z]{2}(-[A-Za-z0-9]{2,4})?/common$`)
	currencyParam      = regexp.MustCompile(`^[A-Za-z]{2,3}$`)
)

const fxPath = "/api/fx"

// PackID 是两位大写国家代码。
type PackID string

// ParsePackID 校验并规范化国家代码，仅接受两位字母。
func ParsePackID(raw string) (PackID, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !packIDPattern.MatchString(code) {
		return "", fmt.Errorf("invalid country code: %q", raw)
	}
	return PackID(code), nil
}

func (p PackID) String() string {
	return string(p)
}

// IsPackResource 判断 URL 是否属于任一国家包：国家配置、翻译包或带 base/quote 的汇率查询。
func IsPackResource(u *url.URL) bool {
	if u == nil {
		return false
	}
	p := cleanPath(u.Path)
	if countryConfigRoute.MatchString(p) || localeBundleRoute.MatchString(p) {
		return true
	}
	if p != fxPath {
		return false
	}
	query := u.Query()
	return currencyParam.MatchString(query.Get("base")) || currencyParam.MatchString(query.Get("quote"))
}

// Country 是国家包派生资源所需的元数据。
type Country struct {
	Currency string
	Locale   string
}

var builtinCountries = map[PackID]Country{
	"AU": {Currency: "AUD", Locale: "en"},
	"CN": {Currency: "CNY", Locale: "zh"},
	"DE": {Currency: "EUR", Locale: "de"},
	"ES": {Currency: "EUR", Locale: "es"},
	"FR": {Currency: "EUR", Locale: "fr"},
	"GB": {Currency: "GBP", Locale: "en"},
	"ID": {Currency: "IDR", Locale: "id"},
	"IT": {Currency: "EUR", Locale: "it"},
	"JP": {Currency: "JPY", Locale: "ja"},
	"KR": {Currency: "KRW", Locale: "ko"},
	"MY": {Currency: "MYR", Locale: "ms"},
	"SG": {Currency: "SGD", Locale: "en"},
	"TH": {Currency: "THB", Locale: "th"},
	"US": {Currency: "USD", Locale: "en"},
	"VN": {Currency: "VND", Locale: "vi"},
}

// Catalog 将国家代码映射到币种与语言，并记录默认的汇率报价币种。
type Catalog struct {
	countries map[PackID]Country
	quotes    []string
}

// NewCatalog 以内置目录为基础，叠加 overrides（空字段保留内置值）。
func NewCatalog(overrides map[PackID]Country, quotes []string) *Catalog {
	countries := make(map[PackID]Country, len(builtinCountries)+len(overrides))
	for code, country := range builtinCountries {
		countries[code] = country
	}
	for code, override := range overrides {
		merged := countries[code]
		if override.Currency != "" {
			merged.Currency = strings.ToUpper(override.Currency)
		}
		if override.Locale != "" {
			merged.Locale = strings.ToLower(override.Locale)
		}
		countries[code] = merged
	}

	normalized := make([]string, 0, len(quotes))
	for _, q := range quotes {
		if q = strings.ToUpper(strings.TrimSpace(q)); q != "" {
			normalized = append(normalized, q)
		}
	}
	return &Catalog{countries: countries, quotes: normalized}
}

// Lookup 返回国家元数据；未知代码以代码本身作为币种，语言退回 en。
func (c *Catalog) Lookup(pack PackID) Country {
	country, ok := c.countries[pack]
	if !ok {
		country = Country{}
	}
	if country.Currency == "" {
		country.Currency = string(pack)
	}
	if country.Locale == "" {
		country.Locale = "en"
	}
	return country
}

// Codes 返回目录中全部国家代码（排序后）。
func (c *Catalog) Codes() []PackID {
	codes := make([]PackID, 0, len(c.countries))
	for code := range c.countries {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Quotes 返回配置的报价币种。
func (c *Catalog) Quotes() []string {
	return append([]string(nil), c.quotes...)
}

// Resources 派生国家包的资源 URL：国家配置、翻译包，以及每个报价币种一条汇率查询。
// 与本币相同的报价币种会被跳过。
func (c *Catalog) Resources(pack PackID, quotes []string) []string {
	country := c.Lookup(pack)
	resources := []string{
		"/countries/" + string(pack) + "/config",
		"/i18n/locales/" + country.Locale + "/common",
	}
	seen := map[string]struct{}{}
	for _, quote := range quotes {
		quote = strings.ToUpper(strings.TrimSpace(quote))
		if quote == "" || quote == country.Currency {
			continue
		}
		if _, dup := seen[quote]; dup {
			continue
		}
		seen[quote] = struct{}{}
		query := url.Values{"base": []string{country.Currency}, "quote": []string{quote}}
		resources = append(resources, fxPath+"?"+query.Encode())
	}
	return resources
}

// PackResources 使用目录自带的报价币种派生资源。
func (c *Catalog) PackResources(pack PackID) []string {
	return c.Resources(pack, c.quotes)
}

// Matches 判断 rawURL 是否属于国家包：路径含 /{code}/，或查询参数 base/quote 等于代码，
// 或与派生资源 URL 相同。按字面匹配，代码出现在无关路径段时同样命中。
func (c *Catalog) Matches(pack PackID, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	code := string(pack)
	if strings.Contains(u.Path, "/"+code+"/") {
		return true
	}
	query := u.Query()
	if query.Get("base") == code || query.Get("quote") == code {
		return true
	}

	normalized := normalizeURL(u)
	for _, resource := range c.PackResources(pack) {
		if ru, err := url.Parse(resource); err == nil && normalizeURL(ru) == normalized {
			return true
		}
	}
	return false
}

func normalizeURL(u *url.URL) string {
	p := cleanPath(u.Path)
	if query := u.Query(); len(query) > 0 {
		return p + "?" + query.Encode()
	}
	return p
}
