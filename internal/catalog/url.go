package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

var urlShaped = regexp.MustCompile(`(?i)^https?://\S+$`)

// Default product URL conventions for the marketplace the catalog tracks.
const (
	DefaultIDPattern         = `(?i)goods_id=(\d{10,})`
	DefaultCanonicalPattern  = `(?i)temu\.com/goods\.html\?`
	DefaultCanonicalTemplate = "https://www.temu.com/goods.html?goods_id=%s"
)

// URLScheme knows how product ids appear in URLs and documents.
type URLScheme struct {
	idPattern *regexp.Regexp
	canonical *regexp.Regexp
	template  string
}

// NewURLScheme compiles the id and canonical-shape patterns. The id pattern must
// contain exactly one capture group and the template exactly one %s verb.
func NewURLScheme(idPattern, canonicalPattern, template string) (*URLScheme, error) {
	if idPattern == "" {
		idPattern = DefaultIDPattern
	}
	if canonicalPattern == "" {
		canonicalPattern = DefaultCanonicalPattern
	}
	if template == "" {
		template = DefaultCanonicalTemplate
	}
	idRe, err := regexp.Compile(idPattern)
	if err != nil {
		return nil, fmt.Errorf("compile id pattern: %w", err)
	}
	if idRe.NumSubexp() != 1 {
		return nil, fmt.Errorf("id pattern %q must have exactly one capture group", idPattern)
	}
	canonRe, err := regexp.Compile(canonicalPattern)
	if err != nil {
		return nil, fmt.Errorf("compile canonical pattern: %w", err)
	}
	if strings.Count(template, "%s") != 1 {
		return nil, fmt.Errorf("canonical template %q must contain one %%s", template)
	}
	return &URLScheme{idPattern: idRe, canonical: canonRe, template: template}, nil
}

// MustURLScheme returns the default scheme and panics if the defaults fail to compile.
func MustURLScheme() *URLScheme {
	s, err := NewURLScheme("", "", "")
	if err != nil {
		panic(err)
	}
	return s
}

// IsCanonical reports whether rawURL already has the canonical product-page shape.
func (s *URLScheme) IsCanonical(rawURL string) bool {
	return s.canonical.MatchString(rawURL)
}

// FindID returns the first product id embedded in text.
func (s *URLScheme) FindID(text string) (ProductID, bool) {
	m := s.idPattern.FindStringSubmatch(text)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return ProductID(m[1]), true
}

// CanonicalURL builds the product-page URL for id.
func (s *URLScheme) CanonicalURL(id ProductID) string {
	return fmt.Sprintf(s.template, id)
}

// OutboundURL keeps the source link when it is a short or tracked link; canonical
// links are replaced by the normalized canonical URL.
func (s *URLScheme) OutboundURL(sourceURL string, id ProductID) string {
	if sourceURL != "" && !s.IsCanonical(sourceURL) {
		return sourceURL
	}
	return s.CanonicalURL(id)
}

// IsURLShaped reports whether value looks like an absolute http(s) URL.
func IsURLShaped(value string) bool {
	return urlShaped.MatchString(strings.TrimSpace(value))
}
