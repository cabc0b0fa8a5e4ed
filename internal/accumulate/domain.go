package accumulate

import (
	"net/url"
	"strings"

	"contact-radar/internal/model"

	"golang.org/x/net/publicsuffix"
)

// DomainKey 派生字段：官网的可注册域名。
const DomainKey = "domain"

var siteKeys = []string{"site", "website"}

// Annotate 为记录补充派生字段，已有的值不覆盖。
func Annotate(records []model.Record) {
	for _, r := range records {
		if _, ok := r[DomainKey]; ok {
			continue
		}
		for _, k := range siteKeys {
			if d := Domain(r.String(k)); d != "" {
				r[DomainKey] = d
				break
			}
		}
	}
}

// Domain 返回网址的 eTLD+1，例如 https://shop.example.co.uk/x 得到 example.co.uk。
func Domain(site string) string {
	site = strings.TrimSpace(site)
	if site == "" {
		return ""
	}
	if !strings.Contains(site, "://") {
		site = "http://" + site
	}
	u, err := url.Parse(site)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return d
}
