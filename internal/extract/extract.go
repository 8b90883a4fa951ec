// Package extract pulls structured product data out of rendered Amazon
// pages. It is pure DOM work: callers hand it a parsed document, it hands
// back a record or an ExtractionError.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractionError means the page did not yield a usable record: wrong
// template, missing required fields, or no ASIN.
type ExtractionError struct {
	ASIN string
	Err  error
}

func (e ExtractionError) Error() string {
	if e.ASIN != "" {
		return fmt.Errorf("extraction %s: %w", e.ASIN, e.Err).Error()
	}
	return fmt.Errorf("extraction: %w", e.Err).Error()
}

func (e ExtractionError) Unwrap() error {
	return e.Err
}

// PageType classifies the Amazon page templates the collector understands.
type PageType string

const (
	PageSearch      PageType = "search"
	PageBestseller  PageType = "bestseller"
	PageNewReleases PageType = "new-releases"
	PageProduct     PageType = "product"
	PageUnknown     PageType = "unknown"
)

var asinPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

var detailPathPattern = regexp.MustCompile(`/(?:dp|gp/product)/([A-Z0-9]{10})`)

var p13nASINPattern = regexp.MustCompile(`"asin":"([A-Z0-9]{10})"`)

// ValidASIN reports whether s is a well-formed 10-character identifier.
func ValidASIN(s string) bool {
	return asinPattern.MatchString(s)
}

// DetectPageType classifies a page by its URL.
func DetectPageType(pageURL string) PageType {
	u, err := url.Parse(pageURL)
	if err != nil {
		return PageUnknown
	}
	path := u.Path
	switch {
	case path == "/s" || strings.HasPrefix(path, "/s/"):
		return PageSearch
	case strings.Contains(path, "/Best-Sellers"):
		return PageBestseller
	case strings.Contains(path, "/gp/new-releases"):
		return PageNewReleases
	case detailPathPattern.MatchString(path):
		return PageProduct
	}
	return PageUnknown
}

// DetectMarketplace maps a host to its regional storefront code.
func DetectMarketplace(host string) string {
	switch {
	case strings.HasSuffix(host, ".co.jp"):
		return "JP"
	case strings.HasSuffix(host, ".de"):
		return "DE"
	case strings.HasSuffix(host, ".co.uk"):
		return "UK"
	default:
		return "US"
	}
}

// ASINFromURL extracts the identifier from a detail-page URL, or "".
func ASINFromURL(pageURL string) string {
	m := detailPathPattern.FindStringSubmatch(pageURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// DetailURL is the canonical detail-page address for an ASIN on a
// marketplace.
func DetailURL(asin, marketplace string) string {
	host := "www.amazon.com"
	switch marketplace {
	case "JP":
		host = "www.amazon.co.jp"
	case "DE":
		host = "www.amazon.de"
	case "UK":
		host = "www.amazon.co.uk"
	}
	return fmt.Sprintf("https://%s/dp/%s", host, asin)
}

// listingSelectors are tried in order per template; the first selector that
// matches anything wins, mirroring how the page variants differ.
var listingSelectors = map[PageType][]string{
	PageSearch: {
		`div[data-component-type="s-search-result"]`,
		`.s-result-item`,
		`[data-asin]`,
	},
	PageBestseller: {
		`.zg-item-immersion`,
		`.p13n-sc-uncoverable-faceout`,
		`[data-p13n-asin-metadata]`,
		`.zg-item`,
		`.p13n-gridItem`,
		`[data-asin]`,
	},
}

func init() {
	listingSelectors[PageNewReleases] = listingSelectors[PageBestseller]
}

// ListingASINs harvests the identifiers on a listing page: de-duplicated in
// document order, validated, and capped at maxItems.
func ListingASINs(doc *goquery.Document, pageType PageType, maxItems int) []string {
	selectors, ok := listingSelectors[pageType]
	if !ok {
		selectors = []string{`[data-asin]`}
	}

	seen := make(map[string]bool)
	asins := make([]string, 0)

	for _, selector := range selectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		sel.Each(func(_ int, s *goquery.Selection) {
			asin := asinFromListing(s)
			if ValidASIN(asin) && !seen[asin] {
				seen[asin] = true
				asins = append(asins, asin)
			}
		})
		break
	}

	if maxItems > 0 && len(asins) > maxItems {
		asins = asins[:maxItems]
	}
	return asins
}

// asinFromListing tries the attribute forms the templates use, then falls
// back to detail links inside the tile.
func asinFromListing(s *goquery.Selection) string {
	if asin, ok := s.Attr("data-asin"); ok && asin != "" {
		return asin
	}
	meta, ok := s.Attr("data-p13n-asin-metadata")
	if !ok {
		meta, _ = s.Find("[data-p13n-asin-metadata]").First().Attr("data-p13n-asin-metadata")
	}
	if m := p13nASINPattern.FindStringSubmatch(meta); m != nil {
		return m[1]
	}
	if asin, ok := s.Find("[data-asin]").First().Attr("data-asin"); ok && asin != "" {
		return asin
	}
	href, ok := s.Find(`a[href*="/dp/"], a[href*="/gp/product/"]`).First().Attr("href")
	if ok {
		return ASINFromURL(href)
	}
	return ""
}
