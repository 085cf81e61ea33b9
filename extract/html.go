// Package extract provides small HTML inspection helpers over parsed
// golang.org/x/net/html documents: page title, meta tags, and link
// harvesting. The metadata validation stage and the search-result adapters
// consume these instead of each hand-rolling DOM walks.
package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the parsed view of an HTML document the callers care about.
type Page struct {
	Title string
	Meta  map[string]string // name/property -> content, lowercased keys
	Links []string          // absolute and relative hrefs, document order
}

// Parse reads an HTML document and collects title, meta tags and links in a
// single walk. It never fails on malformed markup; the html package
// tokenizer is error-tolerant by design.
func Parse(body []byte) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	p := &Page{Meta: make(map[string]string)}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if p.Title == "" {
					p.Title = strings.TrimSpace(collectText(n))
				}
			case atom.Meta:
				key := strings.ToLower(attr(n, "property"))
				if key == "" {
					key = strings.ToLower(attr(n, "name"))
				}
				if key != "" {
					if content := attr(n, "content"); content != "" {
						if _, dup := p.Meta[key]; !dup {
							p.Meta[key] = content
						}
					}
				}
			case atom.A:
				if href := attr(n, "href"); href != "" {
					p.Links = append(p.Links, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return p, nil
}

// MetaAny returns the first non-empty meta value among the given keys.
func (p *Page) MetaAny(keys ...string) string {
	for _, k := range keys {
		if v := p.Meta[strings.ToLower(k)]; v != "" {
			return v
		}
	}
	return ""
}

// collectText concatenates all text nodes under n, whitespace-collapsed.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Text returns the visible text of a document body, whitespace-collapsed,
// with script and style contents excluded. Used by the classifier to score
// storefront copy.
func Text(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(sb.String()), " ")
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
