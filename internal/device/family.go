package device

import "strings"

// Family classifies a device's behaviour profile: which schemas and
// commands apply to it. It is derived from the announced category.
type Family string

// Built-in families. FamilyUnknown is the zero value.
const (
	FamilyUnknown   Family = ""
	FamilyICL       Family = "icl"
	FamilySanitizer Family = "sanitizer"
)

// String returns the family name, or "unknown" for FamilyUnknown.
func (f Family) String() string {
	if f == FamilyUnknown {
		return "unknown"
	}
	return string(f)
}

// FamilyRule maps category keywords to a family.
type FamilyRule struct {
	Family   Family
	Keywords []string
}

// DefaultRules are the built-in classification rules. ICL is checked first
// so a category naming both keywords resolves to ICL.
func DefaultRules() []FamilyRule {
	return []FamilyRule{
		{Family: FamilyICL, Keywords: []string{"dct", "digitalcontroller", "icl", "infinite color"}},
		{Family: FamilySanitizer, Keywords: []string{"sanitizer"}},
	}
}

// Classifier resolves a category string to a Family by case-insensitive
// substring match. Rules are evaluated in order; the first match wins.
// A Classifier is immutable and safe for concurrent use.
type Classifier struct {
	rules []FamilyRule
}

// NewClassifier builds a Classifier from rules. Keywords are lower-cased
// and blank keywords are dropped.
func NewClassifier(rules []FamilyRule) *Classifier {
	c := &Classifier{rules: make([]FamilyRule, 0, len(rules))}
	for _, r := range rules {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		if r.Family == FamilyUnknown || len(kw) == 0 {
			continue
		}
		c.rules = append(c.rules, FamilyRule{Family: r.Family, Keywords: kw})
	}
	return c
}

// Classify returns the family for category, or FamilyUnknown.
func (c *Classifier) Classify(category string) Family {
	lc := strings.ToLower(category)
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(lc, k) {
				return r.Family
			}
		}
	}
	return FamilyUnknown
}

// Families lists the families the classifier can produce, in rule order.
func (c *Classifier) Families() []Family {
	out := make([]Family, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.Family)
	}
	return out
}
