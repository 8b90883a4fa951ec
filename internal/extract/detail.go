package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/collectkit/amazon-collector/internal/models"
)

// ProductFromDetail builds a full record from a rendered detail page.
// The title is the one required field: a page without #productTitle is the
// wrong template and yields an ExtractionError. includeRaw controls whether
// the page snapshot is attached to the record.
func ProductFromDetail(doc *goquery.Document, asin, pageURL string, includeRaw bool) (*models.ProductRecord, error) {
	if asin == "" {
		asin = asinFromDetailDoc(doc, pageURL)
	}
	if !ValidASIN(asin) {
		return nil, ExtractionError{ASIN: asin, Err: fmt.Errorf("no valid identifier on page")}
	}

	title := strings.TrimSpace(doc.Find("#productTitle").First().Text())
	if title == "" {
		return nil, ExtractionError{ASIN: asin, Err: fmt.Errorf("not a product detail page: title missing")}
	}

	marketplace := "US"
	if doc.Url != nil {
		marketplace = DetectMarketplace(doc.Url.Host)
	}
	if pageURL == "" {
		pageURL = DetailURL(asin, marketplace)
	}

	record := models.NewProductRecord(asin, pageURL, marketplace)
	cleaned := &record.Cleaned

	cleaned.Title = title
	cleaned.Brand = extractBrand(doc)
	cleaned.Price = extractPrice(doc)
	cleaned.FinalPrice = cleaned.Price
	cleaned.StrikePrice = extractStrikePrice(doc)
	cleaned.Ratings = extractRating(doc)
	cleaned.Reviews = extractReviewCount(doc)
	cleaned.BoughtInPastMonth = extractBoughtInPastMonth(doc)
	cleaned.BSR = extractBSR(doc)
	cleaned.Category = extractCategory(doc)
	cleaned.Shipping = "Free Shipping"
	cleaned.MainImage, _ = doc.Find("#landingImage").First().Attr("src")
	cleaned.OtherImages = extractOtherImages(doc)
	cleaned.Variants = extractVariants(doc)
	cleaned.VariantAttributes = extractVariantAttributes(doc)
	cleaned.BulletPoints = extractBulletPoints(doc)
	cleaned.Description = strings.TrimSpace(doc.Find("#productDescription").First().Text())
	cleaned.DateFirstAvailable = extractDateFirstAvailable(doc)
	cleaned.OEMPartNumber = extractOEMPartNumber(doc)
	applyDimensions(doc, cleaned)

	if includeRaw {
		if html, err := doc.Html(); err == nil {
			record.Raw = html
		}
	}
	return record, nil
}

func asinFromDetailDoc(doc *goquery.Document, pageURL string) string {
	if asin := ASINFromURL(pageURL); asin != "" {
		return asin
	}
	if doc.Url != nil {
		if asin := ASINFromURL(doc.Url.Path); asin != "" {
			return asin
		}
	}
	if asin, ok := doc.Find("[data-asin]").First().Attr("data-asin"); ok && asin != "" {
		return asin
	}
	if asin, ok := doc.Find("input#ASIN").First().Attr("value"); ok {
		return asin
	}
	return ""
}

func extractBrand(doc *goquery.Document) string {
	brand := strings.TrimSpace(doc.Find("#bylineInfo").First().Text())
	if brand == "" {
		return "Unknown"
	}
	brand = strings.TrimPrefix(brand, "Brand: ")
	if strings.HasPrefix(brand, "Visit the ") {
		brand = strings.TrimPrefix(brand, "Visit the ")
		brand = strings.TrimSuffix(brand, " Store")
	}
	return strings.TrimSpace(brand)
}

var numberPattern = regexp.MustCompile(`[\d,]+\.?\d*`)

func extractPrice(doc *goquery.Document) string {
	if text := doc.Find(".a-price .a-offscreen").First().Text(); text != "" {
		if m := numberPattern.FindString(text); m != "" {
			return strings.ReplaceAll(m, ",", "")
		}
	}

	whole := strings.TrimSpace(doc.Find(".a-price-whole").First().Text())
	fraction := strings.TrimSpace(doc.Find(".a-price-fraction").First().Text())
	if whole != "" && fraction != "" {
		whole = strings.ReplaceAll(whole, ",", "")
		if strings.Contains(whole, ".") {
			return whole
		}
		return whole + "." + fraction
	}
	return "0.00"
}

func extractStrikePrice(doc *goquery.Document) *string {
	sel := doc.Find(".a-text-strike .a-offscreen, .basisPrice .a-offscreen, .priceBlockStrikePriceString .a-offscreen").First()
	if m := numberPattern.FindString(sel.Text()); m != "" {
		price := strings.ReplaceAll(m, ",", "")
		return &price
	}
	return nil
}

func extractRating(doc *goquery.Document) float64 {
	title, _ := doc.Find("#acrPopover").First().Attr("title")
	if m := regexp.MustCompile(`[\d.]+`).FindString(title); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			return v
		}
	}
	return 0
}

func extractReviewCount(doc *goquery.Document) int {
	text := doc.Find("#acrCustomerReviewText").First().Text()
	digits := regexp.MustCompile(`[^0-9]`).ReplaceAllString(text, "")
	if digits == "" {
		return 0
	}
	v, _ := strconv.Atoi(digits)
	return v
}

var boughtPattern = regexp.MustCompile(`(?i)([\d,.]+[Kk]?)\+?\s*(?:bought|purchased|sold)\s+in\s+(?:the\s+)?(?:past|last)\s+(?:month|30\s+days)`)

func extractBoughtInPastMonth(doc *goquery.Document) int {
	scopes := []string{
		"#social-proofing-faceout",
		"#social-proofing",
		"#centerCol",
	}
	for _, selector := range scopes {
		if n := parseBoughtCount(doc.Find(selector).Text()); n > 0 {
			return n
		}
	}
	return parseBoughtCount(doc.Find("body").Text())
}

func parseBoughtCount(text string) int {
	m := boughtPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	num := m[1]
	if strings.ContainsAny(num, "Kk") {
		v, err := strconv.ParseFloat(strings.TrimRight(num, "Kk"), 64)
		if err != nil {
			return 0
		}
		return int(v*1000 + 0.5)
	}
	v, err := strconv.Atoi(strings.ReplaceAll(num, ",", ""))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func extractBSR(doc *goquery.Document) *string {
	text := doc.Find("#productDetails_detailBullets_sections1").Text()
	if text == "" {
		text = doc.Find("#SalesRank").Text()
	}
	if m := regexp.MustCompile(`#([0-9,]+)`).FindStringSubmatch(text); m != nil {
		rank := strings.ReplaceAll(m[1], ",", "")
		return &rank
	}
	return nil
}

func extractCategory(doc *goquery.Document) string {
	parts := make([]string, 0)
	doc.Find(".a-breadcrumb a").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " > ")
}

func extractOtherImages(doc *goquery.Document) []string {
	images := make([]string, 0)
	seen := make(map[string]bool)
	add := func(src string) {
		if src != "" && !strings.Contains(src, "spinner") && !seen[src] {
			seen[src] = true
			images = append(images, src)
		}
	}

	doc.Find("#altImages img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			src, _ = s.Attr("data-src")
		}
		add(src)
	})
	doc.Find("#landingImage, #imgBlkFront, #imgBlkBack").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src)
	})
	return images
}

func extractVariants(doc *goquery.Document) []string {
	variants := make([]string, 0)
	doc.Find("#variation_color_name li, #variation_size_name li, #variation_pattern_name li").Each(func(_ int, s *goquery.Selection) {
		if text := variantLabel(s); text != "" {
			variants = append(variants, text)
		}
	})
	return variants
}

// variantLabel prefers the swatch image's alt text; color swatches often
// have no text content at all.
func variantLabel(s *goquery.Selection) string {
	if alt, ok := s.Find("img").First().Attr("alt"); ok && strings.TrimSpace(alt) != "" {
		return strings.TrimSpace(alt)
	}
	return strings.TrimSpace(s.Text())
}

func extractVariantAttributes(doc *goquery.Document) map[string]string {
	attrs := make(map[string]string)
	if color := strings.TrimSpace(doc.Find("#variation_color_name .selection").First().Text()); color != "" {
		attrs["color"] = color
	}
	if size := strings.TrimSpace(doc.Find("#variation_size_name .selection").First().Text()); size != "" {
		attrs["size"] = size
	}
	return attrs
}

func extractBulletPoints(doc *goquery.Document) []string {
	bullets := make([]string, 0)
	doc.Find("#feature-bullets li").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			bullets = append(bullets, text)
		}
	})
	return bullets
}

// detailRowSelectors cover the table and bullet-list layouts Amazon uses for
// the product details section.
var detailRowSelectors = []string{
	"#productDetails_techSpec_section_1 tr",
	"#productDetails_detailBullets_sections1 li",
	"#productDetails_db_sections tr",
	"#detailBullets_feature_div li",
	"#productDetails_techSpec_section_2 tr",
	".techSpecSection tr",
	"#productDetails_feature_div li",
}

// detailRows yields (label, value) pairs from whichever details layout the
// page uses.
func detailRows(doc *goquery.Document, fn func(label, value string)) {
	for _, selector := range detailRowSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			th := s.Find("th").First()
			td := s.Find("td").First()
			if th.Length() > 0 && td.Length() > 0 {
				fn(strings.TrimSpace(th.Text()), strings.TrimSpace(td.Text()))
				return
			}
			text := s.Text()
			if idx := strings.Index(text, ":"); idx > 0 {
				fn(strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+1:]))
			}
		})
	}
}

var (
	dimensionsPattern = regexp.MustCompile(`(?i)([\d.]+)\s*[xX]\s*([\d.]+)\s*[xX]\s*([\d.]+)\s*(inches|cm|mm|inch|centimeters)?`)
	weightPattern     = regexp.MustCompile(`(?i)([\d.]+)\s*(pounds|lbs|kg|g|oz|ounces|kilograms|grams)`)
)

func applyDimensions(doc *goquery.Document, cleaned *models.CleanedFields) {
	detailRows(doc, func(label, value string) {
		if strings.Contains(label, "Product Dimensions") || strings.Contains(label, "Package Dimensions") {
			if m := dimensionsPattern.FindStringSubmatch(value); m != nil && cleaned.ProductDimensions == nil {
				unit := m[4]
				if unit == "" {
					unit = "inches"
				}
				dims := fmt.Sprintf("%s x %s x %s %s", m[1], m[2], m[3], unit)
				cleaned.ProductDimensions = &dims
				cleaned.ItemLength = &m[1]
				cleaned.ItemWidth = &m[2]
				cleaned.ItemHeight = &m[3]
				cleaned.ItemSizeUnit = &unit
			}
		}
		if strings.Contains(label, "Item Weight") || strings.Contains(label, "Shipping Weight") || strings.Contains(label, "Package Weight") {
			if m := weightPattern.FindStringSubmatch(value); m != nil && cleaned.ItemWeight == nil {
				weight := m[1] + " " + m[2]
				cleaned.ItemWeight = &weight
				cleaned.ItemWeightValue = &m[1]
				cleaned.ItemWeightUnit = &m[2]
			}
		}
	})
}

func extractDateFirstAvailable(doc *goquery.Document) *string {
	var found *string
	detailRows(doc, func(label, value string) {
		if found != nil || value == "" {
			return
		}
		if !strings.Contains(label, "Date First Available") && !strings.Contains(label, "First Available") {
			return
		}
		if date := normalizeDate(value); date != "" {
			found = &date
		}
	})
	return found
}

// normalizeDate converts the site's date spellings to YYYY/MM/DD.
func normalizeDate(value string) string {
	if m := regexp.MustCompile(`\d{4}/\d{1,2}/\d{1,2}`).FindString(value); m != "" {
		if t, err := time.Parse("2006/1/2", m); err == nil {
			return t.Format("2006/01/02")
		}
	}
	if m := regexp.MustCompile(`\w+\s+\d{1,2},\s+\d{4}`).FindString(value); m != "" {
		if t, err := time.Parse("January 2, 2006", m); err == nil {
			return t.Format("2006/01/02")
		}
	}
	if m := regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`).FindString(value); m != "" {
		if t, err := time.Parse("1/2/2006", m); err == nil {
			return t.Format("2006/01/02")
		}
	}
	return ""
}

var oemPattern = regexp.MustCompile(`[A-Z0-9][A-Z0-9\-]+`)

func extractOEMPartNumber(doc *goquery.Document) *string {
	var found *string
	detailRows(doc, func(label, value string) {
		if found != nil {
			return
		}
		if strings.Contains(label, "OEM Part Number") || strings.Contains(label, "Manufacturer Part Number") {
			if m := oemPattern.FindString(value); m != "" {
				found = &m
			}
		}
	})
	return found
}
