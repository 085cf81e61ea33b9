package extract

import (
	"strings"
	"testing"
)

const sampleDoc = `<!DOCTYPE html>
<html><head>
<title>  Kicks &amp; Laces  </title>
<meta property="og:site_name" content="Kicks and Laces">
<meta property="og:locale" content="en_GB">
<meta name="description" content="Rare sneakers, restocked weekly">
<meta name="description" content="duplicate ignored">
</head><body>
<script>var x = "not visible";</script>
<style>.hidden{display:none}</style>
<nav><a href="/collections/all">Shop</a></nav>
<p>Fresh pairs   every Friday.</p>
<a href="https://blog.example.com/post">Blog</a>
</body></html>`

func TestParse_TitleMetaLinks(t *testing.T) {
	// WHAT: One walk collects title, meta map, and hrefs in document order.
	// WHY: The metadata stage reads all three from a single fetch.
	p, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Title != "Kicks & Laces" {
		t.Errorf("title: got %q", p.Title)
	}
	if got := p.Meta["og:site_name"]; got != "Kicks and Laces" {
		t.Errorf("og:site_name: got %q", got)
	}
	if got := p.Meta["description"]; got != "Rare sneakers, restocked weekly" {
		t.Errorf("description should keep first occurrence, got %q", got)
	}
	if len(p.Links) != 2 || p.Links[0] != "/collections/all" {
		t.Errorf("links: got %v", p.Links)
	}
}

func TestMetaAny_FirstNonEmptyWins(t *testing.T) {
	// WHAT: MetaAny falls through missing keys.
	// WHY: Display name probes try og:site_name before og:title before title.
	p := &Page{Meta: map[string]string{"og:locale": "fr_FR"}}
	if got := p.MetaAny("og:site_name", "og:locale"); got != "fr_FR" {
		t.Errorf("got %q", got)
	}
	if got := p.MetaAny("nope", "nada"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestText_ExcludesScriptAndStyle(t *testing.T) {
	// WHAT: Text returns visible copy only, whitespace collapsed.
	// WHY: Classifier keyword scoring must not see script bodies.
	got := Text([]byte(sampleDoc))
	if strings.Contains(got, "not visible") || strings.Contains(got, "display:none") {
		t.Errorf("script/style leaked into text: %q", got)
	}
	if !strings.Contains(got, "Fresh pairs every Friday.") {
		t.Errorf("visible copy missing or not collapsed: %q", got)
	}
}

func TestParse_MalformedHTMLNeverFails(t *testing.T) {
	// WHAT: Truncated and broken markup still parses.
	// WHY: Storefront pages in the wild are frequently invalid.
	broken := []string{
		"<html><head><title>Unclosed",
		"<p>no structure at all",
		"",
		"<<<>>>",
	}
	for _, b := range broken {
		if _, err := Parse([]byte(b)); err != nil {
			t.Errorf("Parse(%q): %v", b, err)
		}
	}
}
