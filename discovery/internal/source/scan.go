package source

import (
	"regexp"
	"strings"
)

// urlPattern matches absolute http(s) URLs embedded in free text.
var urlPattern = regexp.MustCompile(`https?://[^\s"'<>()\[\]{}]+`)

// hostChars validates one DNS label of a hosted shop hostname.
var hostLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ScanText extracts candidate shop URLs from arbitrary text: absolute URLs,
// plus bare "<shop>.<suffix>" hostnames when a hosted suffix is configured.
// Every adapter that receives prose (snippets, ad copy, certificate name
// lists) funnels it through here instead of hand-rolling its own matching.
func ScanText(text, hostedSuffix string) []string {
	var out []string
	seen := make(map[string]bool)

	add := func(u string) {
		u = trimPunct(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	for _, m := range urlPattern.FindAllString(text, -1) {
		add(m)
	}

	if hostedSuffix != "" {
		suffix := "." + strings.TrimPrefix(strings.ToLower(hostedSuffix), ".")
		for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
			return r == ' ' || r == '\n' || r == '\t' || r == ',' || r == ';' ||
				r == '"' || r == '\'' || r == '<' || r == '>' || r == '(' || r == ')'
		}) {
			tok = strings.ToLower(trimPunct(tok))
			if !strings.HasSuffix(tok, suffix) || strings.Contains(tok, "/") {
				continue
			}
			label := strings.TrimSuffix(tok, suffix)
			if label == "" || label == "www" || !hostLabel.MatchString(label) {
				continue
			}
			add("https://" + tok)
		}
	}

	return out
}

// trimPunct drops trailing sentence punctuation that text matching drags in.
func trimPunct(s string) string {
	return strings.TrimRight(s, ".,;:!?")
}
