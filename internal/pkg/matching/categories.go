package matching

import (
	"fmt"
	"strings"
)

// DefaultGroups maps each coarse trade group to its fine-grained categories.
// The group key itself is a valid category for providers or leads tagged
// only at the coarse level.
var DefaultGroups = map[string][]string{
	"elektro":          {"elektriker", "elektroinstallation", "beleuchtung", "photovoltaik", "smart_home"},
	"sanitaer_heizung": {"sanitaer", "heizung", "lueftung", "klima", "badezimmer"},
	"bauhaupt":         {"maurer", "beton", "fassade", "dach", "zimmermann", "abbruch"},
	"innenausbau":      {"maler", "gipser", "bodenleger", "plattenleger", "schreiner", "kueche", "fenster"},
	"garten":           {"gartenbau", "gaertner", "zaun", "pflaesterung"},
	"reinigung":        {"unterhaltsreinigung", "fensterreinigung", "umzugsreinigung", "hauswartung"},
	"umzug":            {"privatumzug", "firmenumzug", "transport", "entsorgung", "moebellift"},
}

// CategoryIndex resolves a category to its coarse group.
type CategoryIndex struct {
	groupOf map[string]string
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewCategoryIndex builds the index. A category listed in two groups is a
// configuration error.
func NewCategoryIndex(groups map[string][]string) (*CategoryIndex, error) {
	idx := &CategoryIndex{groupOf: map[string]string{}}
	for group, categories := range groups {
		g := normalize(group)
		if prev, ok := idx.groupOf[g]; ok && prev != g {
			return nil, fmt.Errorf("group %q is also a category of %q", g, prev)
		}
		idx.groupOf[g] = g
		for _, c := range categories {
			c = normalize(c)
			if prev, ok := idx.groupOf[c]; ok && prev != g {
				return nil, fmt.Errorf("category %q belongs to %q and %q", c, prev, g)
			}
			idx.groupOf[c] = g
		}
	}
	return idx, nil
}

// MustCategoryIndex is NewCategoryIndex for static tables.
func MustCategoryIndex(groups map[string][]string) *CategoryIndex {
	idx, err := NewCategoryIndex(groups)
	if err != nil {
		panic(err)
	}
	return idx
}

// Group returns the coarse group of a category, or "" if unknown.
func (i *CategoryIndex) Group(category string) string {
	return i.groupOf[normalize(category)]
}

// Matches reports whether a provider listing categories serves the lead
// category: by exact name, or by sharing the coarse group. Group lookup runs
// on both sides, so coarse-only tags on either side still match.
func (i *CategoryIndex) Matches(leadCategory string, providerCategories []string) bool {
	lc := normalize(leadCategory)
	lg := i.Group(lc)
	for _, pc := range providerCategories {
		pc = normalize(pc)
		if pc == lc {
			return true
		}
		if lg != "" && i.Group(pc) == lg {
			return true
		}
	}
	return false
}
