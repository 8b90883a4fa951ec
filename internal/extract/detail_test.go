package extract

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailFixture = `<html><body>
	<span id="productTitle"> Acme Wireless Headphones, Noise Cancelling </span>
	<a id="bylineInfo">Visit the Acme Store</a>
	<div class="a-breadcrumb">
		<a>Electronics</a>
		<a>Headphones</a>
	</div>
	<span class="a-price"><span class="a-offscreen">$29.99</span></span>
	<span class="a-text-strike"><span class="a-offscreen">$39.99</span></span>
	<span id="acrPopover" title="4.5 out of 5 stars"></span>
	<span id="acrCustomerReviewText">1,234 ratings</span>
	<div id="social-proofing-faceout">2K+ bought in past month</div>
	<img id="landingImage" src="https://m.media.example/main.jpg">
	<div id="altImages">
		<img src="https://m.media.example/alt1.jpg">
		<img src="https://m.media.example/spinner.gif">
		<img src="https://m.media.example/alt2.jpg">
	</div>
	<div id="variation_size_name">
		<span class="selection">Large</span>
		<ul>
			<li><img alt="Small"></li>
			<li><img alt="Large"></li>
		</ul>
	</div>
	<div id="feature-bullets">
		<ul>
			<li>40 hour battery life</li>
			<li>Bluetooth 5.3</li>
			<li> </li>
		</ul>
	</div>
	<div id="productDescription">Over-ear headphones with active noise cancelling.</div>
	<table id="productDetails_techSpec_section_1">
		<tr><th>Product Dimensions</th><td>10 x 5 x 3 inches</td></tr>
		<tr><th>Item Weight</th><td>1.5 pounds</td></tr>
		<tr><th>Manufacturer Part Number</th><td>AC-4090X</td></tr>
	</table>
	<div id="productDetails_detailBullets_sections1">
		<ul>
			<li>Best Sellers Rank : #1,234 in Electronics</li>
			<li>Date First Available : March 5, 2023</li>
		</ul>
	</div>
</body></html>`

func TestProductFromDetail(t *testing.T) {
	doc := mustDoc(t, detailFixture)
	doc.Url = &url.URL{Scheme: "https", Host: "www.amazon.com", Path: "/dp/B0CX23V2ZK"}

	record, err := ProductFromDetail(doc, "B0CX23V2ZK", "https://www.amazon.com/dp/B0CX23V2ZK", false)
	require.NoError(t, err)

	assert.Equal(t, "B0CX23V2ZK", record.ASIN)
	assert.Equal(t, "US", record.Marketplace)
	assert.Empty(t, record.Raw)

	cleaned := record.Cleaned
	assert.Equal(t, "Acme Wireless Headphones, Noise Cancelling", cleaned.Title)
	assert.Equal(t, "Acme", cleaned.Brand)
	assert.Equal(t, "29.99", cleaned.Price)
	assert.Equal(t, "29.99", cleaned.FinalPrice)
	require.NotNil(t, cleaned.StrikePrice)
	assert.Equal(t, "39.99", *cleaned.StrikePrice)
	assert.Equal(t, 4.5, cleaned.Ratings)
	assert.Equal(t, 1234, cleaned.Reviews)
	assert.Equal(t, 2000, cleaned.BoughtInPastMonth)
	require.NotNil(t, cleaned.BSR)
	assert.Equal(t, "1234", *cleaned.BSR)
	assert.Equal(t, "Electronics > Headphones", cleaned.Category)
	assert.Equal(t, "https://m.media.example/main.jpg", cleaned.MainImage)
	assert.Equal(t, []string{
		"https://m.media.example/alt1.jpg",
		"https://m.media.example/alt2.jpg",
		"https://m.media.example/main.jpg",
	}, cleaned.OtherImages, "spinner placeholders must be dropped")
	assert.Equal(t, []string{"Small", "Large"}, cleaned.Variants)
	assert.Equal(t, map[string]string{"size": "Large"}, cleaned.VariantAttributes)
	assert.Equal(t, []string{"40 hour battery life", "Bluetooth 5.3"}, cleaned.BulletPoints)
	assert.Equal(t, "Over-ear headphones with active noise cancelling.", cleaned.Description)

	require.NotNil(t, cleaned.ProductDimensions)
	assert.Equal(t, "10 x 5 x 3 inches", *cleaned.ProductDimensions)
	require.NotNil(t, cleaned.ItemWeight)
	assert.Equal(t, "1.5 pounds", *cleaned.ItemWeight)
	require.NotNil(t, cleaned.DateFirstAvailable)
	assert.Equal(t, "2023/03/05", *cleaned.DateFirstAvailable)
	require.NotNil(t, cleaned.OEMPartNumber)
	assert.Equal(t, "AC-4090X", *cleaned.OEMPartNumber)
}

func TestProductFromDetailIncludesRaw(t *testing.T) {
	doc := mustDoc(t, detailFixture)
	record, err := ProductFromDetail(doc, "B0CX23V2ZK", "https://www.amazon.com/dp/B0CX23V2ZK", true)
	require.NoError(t, err)
	assert.Contains(t, record.Raw, "productTitle")
}

func TestProductFromDetailMarketplaceFromDocument(t *testing.T) {
	doc := mustDoc(t, detailFixture)
	doc.Url = &url.URL{Scheme: "https", Host: "www.amazon.co.jp", Path: "/dp/B0CX23V2ZK"}

	record, err := ProductFromDetail(doc, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, "B0CX23V2ZK", record.ASIN, "identifier recovered from the document URL")
	assert.Equal(t, "JP", record.Marketplace)
	assert.Equal(t, "https://www.amazon.co.jp/dp/B0CX23V2ZK", record.URL)
}

func TestProductFromDetailRejectsWrongTemplate(t *testing.T) {
	doc := mustDoc(t, `<html><body><div id="search-results">nothing here</div></body></html>`)

	_, err := ProductFromDetail(doc, "B0CX23V2ZK", "https://www.amazon.com/dp/B0CX23V2ZK", false)
	require.Error(t, err)
	var exErr ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "B0CX23V2ZK", exErr.ASIN)
}

func TestProductFromDetailRejectsMissingIdentifier(t *testing.T) {
	doc := mustDoc(t, detailFixture)
	_, err := ProductFromDetail(doc, "", "https://www.amazon.com/s?k=headphones", false)
	var exErr ExtractionError
	assert.ErrorAs(t, err, &exErr)
}

func TestParseBoughtCount(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"Plain count", "400+ bought in past month", 400},
		{"Thousands suffix", "2K+ bought in past month", 2000},
		{"Fractional thousands", "1.5K+ bought in past month", 1500},
		{"With commas", "1,200+ bought in past month", 1200},
		{"Last month spelling", "300+ purchased in the last month", 300},
		{"No match", "best seller in Electronics", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseBoughtCount(tt.text))
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Slash date", "2023/3/5", "2023/03/05"},
		{"Long form", "March 5, 2023", "2023/03/05"},
		{"US numeric", "3/5/2023", "2023/03/05"},
		{"Embedded", "First listed March 5, 2023 by seller", "2023/03/05"},
		{"Unparseable", "sometime in spring", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeDate(tt.input))
		})
	}
}

func TestExtractBrandFallback(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{"Brand prefix", `<a id="bylineInfo">Brand: Acme</a>`, "Acme"},
		{"Store link", `<a id="bylineInfo">Visit the Acme Store</a>`, "Acme"},
		{"Plain", `<a id="bylineInfo">Acme</a>`, "Acme"},
		{"Missing", `<div></div>`, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDoc(t, "<html><body>"+tt.html+"</body></html>")
			assert.Equal(t, tt.expected, extractBrand(doc))
		})
	}
}

func TestExtractPriceFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{"Offscreen", `<span class="a-price"><span class="a-offscreen">$1,299.00</span></span>`, "1299.00"},
		{"Whole and fraction", `<span class="a-price-whole">29</span><span class="a-price-fraction">99</span>`, "29.99"},
		{"Missing", `<div></div>`, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDoc(t, "<html><body>"+tt.html+"</body></html>")
			assert.Equal(t, tt.expected, extractPrice(doc))
		})
	}
}
