package pipeline

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/kelarsco/sneaklink/discovery/internal/dedup"
	"github.com/kelarsco/sneaklink/extract"
)

// metadata holds everything later stages read from the storefront.
type metadata struct {
	displayName string
	country     string
	theme       string
	keywords    string
	text        string
	// productCount is -1 when the catalog endpoint could not be read.
	// There is no default: an unknown count never passes the gate.
	productCount int
}

var themePattern = regexp.MustCompile(`Storefront\.theme\s*=\s*\{[^}]*"name"\s*:\s*"([^"]+)"`)

// extractMetadata parses the already-fetched homepage and probes the catalog
// endpoint in parallel. It never fails the task: gaps surface as empty
// fields or an unknown product count, and the gate decides.
func (p *Pipeline) extractMetadata(ctx context.Context, task dedup.Task, state *probeState) metadata {
	meta := metadata{productCount: -1}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		meta.productCount = p.countProducts(ctx, task.IdentityURL)
	}()

	body := state.home.Body
	page, err := extract.Parse(body)
	if err == nil {
		meta.displayName = firstNonEmpty(page.MetaAny("og:site_name", "og:title"), page.Title)
		meta.keywords = page.MetaAny("keywords", "description", "og:description")
		meta.country = localeCountry(page.MetaAny("og:locale", "locale"))
		meta.theme = page.MetaAny("generator")
	}
	if meta.country == "" {
		meta.country = localeCountry(state.home.Header.Get("Content-Language"))
	}
	if m := themePattern.FindSubmatch(body); m != nil {
		meta.theme = string(m[1])
	}
	if meta.displayName == "" {
		meta.displayName = hostLeaf(task.IdentityURL)
	}
	meta.text = extract.Text(body)

	wg.Wait()
	return meta
}

// countProducts reads the public catalog endpoint. Both the enveloped form
// {"products": [...]} and a bare array are accepted.
func (p *Pipeline) countProducts(ctx context.Context, identityURL string) int {
	res, err := p.fetcher.Get(ctx, identityURL+p.cfg.ProductsPath, nil)
	if err != nil {
		return -1
	}

	var envelope struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := json.Unmarshal(res.Body, &envelope); err == nil && envelope.Products != nil {
		return len(envelope.Products)
	}
	var plain []json.RawMessage
	if err := json.Unmarshal(res.Body, &plain); err == nil {
		return len(plain)
	}
	return -1
}

// localeCountry extracts the region from locale forms like en_US or en-GB.
func localeCountry(locale string) string {
	locale = strings.TrimSpace(locale)
	if i := strings.IndexAny(locale, "_-"); i >= 0 && i+1 < len(locale) {
		return strings.ToUpper(locale[i+1:])
	}
	if len(locale) == 2 && locale == strings.ToUpper(locale) {
		return locale
	}
	return ""
}

// hostLeaf returns the first hostname label, the shop name on hosted
// subdomains.
func hostLeaf(identityURL string) string {
	u, err := url.Parse(identityURL)
	if err != nil || u.Host == "" {
		return identityURL
	}
	host := u.Host
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
