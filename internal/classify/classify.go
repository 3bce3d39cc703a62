// Package classify assigns catalog category slugs from product titles.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

// FallbackSlug is returned when no categories are configured.
const FallbackSlug = "room-decor"

// Classify picks a category slug for title. A preferred slug that names a known
// category wins; otherwise the first category with a keyword contained in the
// title (case-insensitive) is chosen; otherwise the first configured category.
func Classify(categories []catalog.CategoryRule, title, preferred string) string {
	preferred = strings.TrimSpace(preferred)
	if preferred != "" {
		for _, c := range categories {
			if c.Slug == preferred {
				return preferred
			}
		}
	}
	lowerTitle := strings.ToLower(title)
	for _, c := range categories {
		for _, kw := range c.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lowerTitle, kw) {
				return c.Slug
			}
		}
	}
	if len(categories) > 0 {
		return categories[0].Slug
	}
	return FallbackSlug
}

// LoadCategories reads the ordered category rules from a JSON file. A missing file
// yields an empty rule set.
func LoadCategories(path string) ([]catalog.CategoryRule, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read categories: %w", err)
	}
	var rules []catalog.CategoryRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := ValidateCategories(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ValidateCategories checks required fields and slug uniqueness.
func ValidateCategories(rules []catalog.CategoryRule) error {
	validate := validator.New()
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if err := validate.Struct(rule); err != nil {
			return fmt.Errorf("category %d: %w", i, err)
		}
		if _, dup := seen[rule.Slug]; dup {
			return fmt.Errorf("category %d: duplicate slug %q", i, rule.Slug)
		}
		seen[rule.Slug] = struct{}{}
	}
	return nil
}
