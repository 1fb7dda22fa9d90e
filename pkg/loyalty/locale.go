package loyalty

import (
	"fmt"

	"golang.org/x/text/language"
)

// Catalog maps tier names to display names per locale. The locale is always
// passed explicitly; English is the fallback.
type Catalog struct {
	tags    []language.Tag
	names   []map[string]string // parallel to tags
	matcher language.Matcher
}

// NewCatalog builds a catalog from locale -> tier name -> display name.
// Locales are BCP 47 tags such as "en", "pt-BR" or "es".
func NewCatalog(translations map[string]map[string]string) (*Catalog, error) {
	c := &Catalog{
		tags:  []language.Tag{language.English},
		names: []map[string]string{translations["en"]},
	}
	for locale, names := range translations {
		if locale == "en" {
			continue
		}
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
		}
		c.tags = append(c.tags, tag)
		c.names = append(c.names, names)
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// TierName returns the display name of a tier for the given locale.
// locale may be a single tag or an Accept-Language header value.
func (c *Catalog) TierName(locale, tierName string) string {
	if c == nil {
		return tierName
	}

	idx := 0
	if desired, _, err := language.ParseAcceptLanguage(locale); err == nil && len(desired) > 0 {
		_, idx, _ = c.matcher.Match(desired...)
	}

	if name, ok := c.names[idx][tierName]; ok && name != "" {
		return name
	}
	if name, ok := c.names[0][tierName]; ok && name != "" {
		return name
	}
	return tierName
}
