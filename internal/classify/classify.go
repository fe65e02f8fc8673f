package classify

import (
	"strings"

	"taskflow/internal/domain"
)

// Classifier resolves activities against an ordered category list.
// Categories are consulted in the order given; the first match wins.
type Classifier struct {
	cats []domain.Category
	byID map[string]int
}

func New(cats []domain.Category) *Classifier {
	c := &Classifier{
		cats: append([]domain.Category(nil), cats...),
		byID: make(map[string]int, len(cats)),
	}
	for i, cat := range c.cats {
		c.byID[cat.ID] = i
	}
	return c
}

// Categories returns the list in lookup order.
func (c *Classifier) Categories() []domain.Category {
	if c == nil {
		return nil
	}
	return append([]domain.Category(nil), c.cats...)
}

func (c *Classifier) Lookup(id string) (domain.Category, bool) {
	if c == nil {
		return domain.Category{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return domain.Category{}, false
	}
	return c.cats[i], true
}

// Match finds the category for a domain, falling back to the application name.
// Domains are matched exactly first, then as sub-domains of a listed domain.
func (c *Classifier) Match(host, application string) (domain.Category, bool) {
	if c == nil {
		return domain.Category{}, false
	}
	host = NormalizeDomain(host)
	if host != "" {
		for _, cat := range c.cats {
			for _, d := range cat.Domains {
				if NormalizeDomain(d) == host {
					return cat, true
				}
			}
		}
		for _, cat := range c.cats {
			for _, d := range cat.Domains {
				d = NormalizeDomain(d)
				if d != "" && strings.HasSuffix(host, "."+d) {
					return cat, true
				}
			}
		}
	}
	application = strings.TrimSpace(application)
	if application != "" {
		for _, cat := range c.cats {
			for _, a := range cat.Applications {
				if strings.EqualFold(strings.TrimSpace(a), application) {
					return cat, true
				}
			}
		}
	}
	return domain.Category{}, false
}

// Resolve maps a category reference onto its productivity tag. Unknown
// references and the zero value resolve to neutral.
func (c *Classifier) Resolve(ref domain.CategoryRef) domain.Tag {
	if ref.IsLiteral() {
		return ref.Tag
	}
	if ref.IsReference() {
		if cat, ok := c.Lookup(ref.ID); ok {
			if t, ok := domain.ParseTag(string(cat.Type)); ok {
				return t
			}
		}
	}
	return domain.TagNeutral
}

// Identity is the key used when aggregating per category, with a display name.
func (c *Classifier) Identity(ref domain.CategoryRef) (key, name string) {
	if ref.IsZero() {
		return string(domain.TagNeutral), ""
	}
	if ref.IsReference() {
		if cat, ok := c.Lookup(ref.ID); ok {
			return cat.ID, cat.Name
		}
	}
	return ref.String(), ""
}

// Categorize returns the reference to store for an incoming activity.
// An explicit category is kept; otherwise the lookup result, if any.
func (c *Classifier) Categorize(a domain.Activity) domain.CategoryRef {
	if !a.Category.IsZero() {
		return a.Category
	}
	if cat, ok := c.Match(a.Domain, a.Application); ok {
		return domain.CategoryReference(cat.ID)
	}
	return domain.CategoryRef{}
}

// NormalizeDomain lower-cases a host and strips a leading "www.", any port and
// any trailing dot.
func NormalizeDomain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 && !strings.Contains(s[i:], "]") {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".")
	return strings.TrimPrefix(s, "www.")
}
