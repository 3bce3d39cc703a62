package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

// DefaultImageMarker selects product images by a substring of their src.
const DefaultImageMarker = "media"

// Selector groups, in priority order.
var (
	titleSelectors  = []string{`[data-test-id="product-title"]`, "h1", "title"}
	priceSelectors  = []string{`[data-test-id="price"]`, ".price", ".product-price"}
	buySelector     = `[data-test-id*="buy"], [data-test-id*="cart"]`
	disabledControl = `button[disabled], button[aria-disabled="true"]`

	soldOutPattern = regexp.MustCompile(`(?i)sold\s*out|out\s*of\s*stock|unavailable`)
	priceChars     = regexp.MustCompile(`[^0-9.,]`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// PageSignals are the structured facts read from a product page. Availability is
// derived from them without touching the DOM again.
type PageSignals struct {
	Title           string
	Price           string
	Images          []string
	SoldOut         bool
	BuyAffordance   bool
	DisabledControl bool
}

// Available reports whether the product can be bought: not sold out, either a buy
// control or a price is present, and no disabled buy control is shown.
func (s PageSignals) Available() bool {
	return !s.SoldOut && (s.BuyAffordance || s.Price != "") && !s.DisabledControl
}

// Metadata converts the signals into catalog metadata.
func (s PageSignals) Metadata() catalog.Metadata {
	return catalog.Metadata{
		Title:     s.Title,
		Price:     s.Price,
		Images:    s.Images,
		Available: s.Available(),
	}
}

// Parse reads page signals from an HTML document. Missing elements yield zero values.
// Relative image sources are resolved against pageURL when it parses.
func Parse(html, pageURL, imageMarker string) (PageSignals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageSignals{}, fmt.Errorf("parse html: %w", err)
	}
	if imageMarker == "" {
		imageMarker = DefaultImageMarker
	}
	base, _ := url.Parse(pageURL)

	signals := PageSignals{
		Title:           firstText(doc, titleSelectors),
		Price:           priceChars.ReplaceAllString(firstText(doc, priceSelectors), ""),
		Images:          images(doc, base, imageMarker),
		BuyAffordance:   doc.Find(buySelector).Length() > 0,
		DisabledControl: doc.Find(disabledControl).Length() > 0,
	}
	signals.SoldOut = soldOutPattern.MatchString(pageText(doc))
	return signals, nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = collapse(s.Text())
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func images(doc *goquery.Document, base *url.URL, marker string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, catalog.MaxImages)
	doc.Find(fmt.Sprintf("img[src*=%q]", marker)).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			return true
		}
		if base != nil {
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}
		if _, dup := seen[src]; dup {
			return true
		}
		seen[src] = struct{}{}
		out = append(out, src)
		return len(out) < catalog.MaxImages
	})
	return out
}

// pageText is the visible text of the document; scripts and styles are dropped.
func pageText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, template").Remove()
	return collapse(body.Text())
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
