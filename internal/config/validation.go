package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var (
	countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)
	currencyPattern    = regexp.MustCompile(`^[A-Z]{3}$`)
	localePattern      = regexp.MustCompile(`^[a-z]{2}(-[a-z0-9]{2,4})?$`)
)

const supportedBackendList = "fs|sqlite"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.StorageBackend {
	case "fs", "sqlite":
	default:
		return newFieldError("Global.StorageBackend", "仅支持 "+supportedBackendList)
	}
	if g.GenerationTag == "" {
		return newFieldError("Global.GenerationTag", "不能为空")
	}
	if err := wrapFieldError("Global.Upstream", validateUpstream(g.Upstream)); err != nil {
		return err
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	p := c.Policy
	if p.PackTTL.DurationValue() <= 0 {
		return newFieldError("Policy.PackTTL", "必须大于 0")
	}
	if p.FXStaleAfter.DurationValue() <= 0 {
		return newFieldError("Policy.FXStaleAfter", "必须大于 0")
	}
	if p.PackConcurrency <= 0 {
		return newFieldError("Policy.PackConcurrency", "必须大于 0")
	}
	for _, entry := range p.StaticManifest {
		if entry == "" {
			return newFieldError("Policy.StaticManifest", "不允许空路径")
		}
	}
	for _, currency := range p.PackQuoteCurrencies {
		if !currencyPattern.MatchString(currency) {
			return newFieldError("Policy.PackQuoteCurrencies", fmt.Sprintf("非法币种: %q", currency))
		}
	}

	seen := map[string]struct{}{}
	for _, country := range c.Countries {
		if !countryCodePattern.MatchString(country.Code) {
			return newFieldError(countryField(country.Code, "Code"), "必须是两位国家代码")
		}
		if _, exists := seen[country.Code]; exists {
			return newFieldError(countryField(country.Code, "Code"), "重复")
		}
		seen[country.Code] = struct{}{}
		if country.Currency != "" && !currencyPattern.MatchString(country.Currency) {
			return newFieldError(countryField(country.Code, "Currency"), "必须是三位币种代码")
		}
		if country.Locale != "" && !localePattern.MatchString(country.Locale) {
			return newFieldError(countryField(country.Code, "Locale"), "格式非法")
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
