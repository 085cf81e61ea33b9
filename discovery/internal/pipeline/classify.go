package pipeline

import (
	"sort"
	"strings"
)

// Signals is what the classifier sees. No network access: everything was
// gathered by the metadata stage.
type Signals struct {
	Title        string
	Text         string
	MetaKeywords string
	ProductCount int
}

// Classification is the classifier's verdict. A confidence below the
// pipeline threshold turns the record into "unclassified"; models are never
// assigned as a fallback.
type Classification struct {
	BusinessModel string
	Confidence    float64
	Tags          []string
}

// Classifier assigns a business model to a validated storefront.
type Classifier interface {
	Classify(sig Signals) Classification
}

// KeywordClassifier scores business models by keyword evidence in the
// storefront's visible text and metadata. Deterministic and cheap; the
// intended seam for swapping in something smarter later.
type KeywordClassifier struct {
	models map[string][]string
}

// NewKeywordClassifier creates the default classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		models: map[string][]string{
			"b2c_retail": {
				"add to cart", "free shipping", "new arrivals", "sale",
				"checkout", "in stock", "shop now",
			},
			"dropshipping": {
				"worldwide shipping", "delivery 7-", "delivery time",
				"trending products", "limited stock", "aliexpress",
			},
			"digital_goods": {
				"instant download", "digital download", "license key",
				"ebook", "printable", "software",
			},
			"subscription": {
				"subscribe and save", "monthly box", "subscription",
				"cancel anytime", "billed monthly",
			},
			"wholesale": {
				"wholesale", "bulk order", "minimum order", "moq",
				"trade pricing", "b2b",
			},
			"services": {
				"book now", "appointment", "consultation", "hourly rate",
				"session", "booking",
			},
		},
	}
}

// Classify counts keyword hits per model over the combined signal text.
// Confidence is the winning model's share of all hits, so one-keyword
// coincidences on an otherwise generic page stay below any sane threshold.
func (c *KeywordClassifier) Classify(sig Signals) Classification {
	haystack := strings.ToLower(sig.Title + " " + sig.MetaKeywords + " " + sig.Text)

	scores := make(map[string]int, len(c.models))
	matched := make(map[string][]string, len(c.models))
	total := 0
	for model, keywords := range c.models {
		for _, kw := range keywords {
			if n := strings.Count(haystack, kw); n > 0 {
				scores[model] += n
				matched[model] = append(matched[model], kw)
				total += n
			}
		}
	}
	if total == 0 {
		return Classification{BusinessModel: "unclassified"}
	}

	models := make([]string, 0, len(scores))
	for m := range scores {
		models = append(models, m)
	}
	// Ties resolve alphabetically so the verdict is stable between runs.
	sort.Slice(models, func(i, j int) bool {
		if scores[models[i]] != scores[models[j]] {
			return scores[models[i]] > scores[models[j]]
		}
		return models[i] < models[j]
	})

	winner := models[0]
	tags := matched[winner]
	sort.Strings(tags)
	return Classification{
		BusinessModel: winner,
		Confidence:    float64(scores[winner]) / float64(total),
		Tags:          tags,
	}
}
