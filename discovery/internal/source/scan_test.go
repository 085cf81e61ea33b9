package source

import (
	"reflect"
	"testing"
)

func TestScanText_AbsoluteURLs(t *testing.T) {
	// WHAT: Absolute URLs are extracted with trailing punctuation trimmed.
	// WHY: Ad copy and snippets end URLs with sentence punctuation.
	got := ScanText(`Check https://kicks.example/shop! Also see http://deals.example/sale.`, "")
	want := []string{"https://kicks.example/shop", "http://deals.example/sale"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScanText_BareHostedHostnames(t *testing.T) {
	// WHAT: Bare "<shop>.<suffix>" tokens become https URLs.
	// WHY: Certificate name lists carry hostnames, not URLs.
	text := "kicks-and-laces.mystorefront.shop\nwww.mystorefront.shop\nnot-a-shop.other.tld"
	got := ScanText(text, "mystorefront.shop")
	want := []string{"https://kicks-and-laces.mystorefront.shop"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScanText_Deduplicates(t *testing.T) {
	// WHAT: The same URL appearing twice is returned once.
	// WHY: Downstream dedup works per run; no reason to inflate pages.
	got := ScanText("https://a.example https://a.example", "")
	if len(got) != 1 {
		t.Errorf("got %v", got)
	}
}

func TestScanText_RejectsInvalidLabels(t *testing.T) {
	// WHAT: Hostnames with invalid labels or paths are skipped.
	// WHY: Garbage candidates waste validation budget.
	text := "-bad.mystorefront.shop shop/.mystorefront.shop a_b.mystorefront.shop"
	if got := ScanText(text, "mystorefront.shop"); len(got) != 0 {
		t.Errorf("expected none, got %v", got)
	}
}

func TestScanText_EmptyInput(t *testing.T) {
	// WHAT: Empty text yields an empty, non-panicking result.
	// WHY: Adapters call this unconditionally on every field.
	if got := ScanText("", "mystorefront.shop"); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}
