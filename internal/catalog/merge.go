package catalog

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxImages caps the number of images kept per record.
const MaxImages = 5

// PlaceholderTitle is used when neither the page nor the prior record has a title.
func PlaceholderTitle(id ProductID) string {
	return "Item " + string(id)
}

// Merge folds freshly extracted metadata into the existing record (nil for a new id).
// Non-empty fresh values win, otherwise the prior value is kept, otherwise a default
// applies. Availability always reflects the fresh extraction.
func Merge(
	existing *ProductRecord,
	fresh Metadata,
	id ProductID,
	categorySlug string,
	outboundURL string,
	now time.Time,
) ProductRecord {
	var prev ProductRecord
	if existing != nil {
		prev = *existing
	}
	nowMs := now.UnixMilli()

	rec := ProductRecord{
		ID:           id,
		Title:        firstNonEmpty(strings.TrimSpace(fresh.Title), prev.Title, PlaceholderTitle(id)),
		CategorySlug: firstNonEmpty(categorySlug, prev.CategorySlug),
		Price:        firstNonEmpty(strings.TrimSpace(fresh.Price), prev.Price),
		Images:       pickImages(fresh.Images, prev.Images),
		OutboundURL:  firstNonEmpty(outboundURL, prev.OutboundURL),
		Available:    fresh.Available,
		AddedAt:      prev.AddedAt,
		UpdatedAt:    max(prev.UpdatedAt, nowMs),
		CheckCount:   prev.CheckCount + 1,
	}
	if rec.AddedAt == 0 {
		rec.AddedAt = nowMs
	}
	rec.Slug = prev.Slug
	if rec.Slug == "" {
		rec.Slug = Slugify(rec.Title)
	}
	if rec.Slug == "" {
		rec.Slug = string(id)
	}
	return rec
}

func pickImages(fresh, prev []string) []string {
	src := prev
	if len(fresh) > 0 {
		src = fresh
	}
	if len(src) > MaxImages {
		src = src[:MaxImages]
	}
	return append([]string{}, src...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Slugify lowercases title, folds diacritics and collapses every run of
// non-alphanumeric characters into a single dash.
func Slugify(title string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		title,
	)
	if err != nil {
		folded = title
	}
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
