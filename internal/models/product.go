package models

import (
	"time"
)

// ProductRecord is the unit of data handed from the extractor to the backend.
// The Cleaned sub-record holds the typed listing fields; Raw optionally keeps
// the page snapshot the fields were extracted from. The backend generates its
// own id on insert, so a saved record is never mutated again.
type ProductRecord struct {
	ASIN         string        `json:"asin"`
	URL          string        `json:"url"`
	Raw          string        `json:"raw,omitempty"`
	Cleaned      CleanedFields `json:"cleaned"`
	Optimized    Blob          `json:"optimized"`
	Translations Blob          `json:"translations"`
	UserID       string        `json:"user_id,omitempty"`
	Status       string        `json:"status"`
	Marketplace  string        `json:"marketplace"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Blob is a free-form JSON object carried through unchanged.
type Blob map[string]interface{}

// CleanedFields are the normalized product attributes extracted from a
// detail page. Field names follow the backend's listings schema.
type CleanedFields struct {
	ASIN               string            `json:"asin"`
	ParentASIN         string            `json:"parent_asin"`
	Title              string            `json:"title"`
	Brand              string            `json:"brand"`
	Price              string            `json:"price"`
	StrikePrice        *string           `json:"strike_price"`
	FinalPrice         string            `json:"final_price"`
	CouponAmount       float64           `json:"coupon_amount"`
	Ratings            float64           `json:"ratings"`
	Reviews            int               `json:"reviews"`
	BoughtInPastMonth  int               `json:"bought_in_past_month"`
	BSR                *string           `json:"BSR"`
	Category           string            `json:"category"`
	ProductDimensions  *string           `json:"product_dimensions"`
	ItemLength         *string           `json:"item_length"`
	ItemWidth          *string           `json:"item_width"`
	ItemHeight         *string           `json:"item_height"`
	ItemSizeUnit       *string           `json:"item_size_unit"`
	ItemWeight         *string           `json:"item_weight"`
	ItemWeightValue    *string           `json:"item_weight_value"`
	ItemWeightUnit     *string           `json:"item_weight_unit"`
	Shipping           string            `json:"shipping"`
	MainImage          string            `json:"main_image"`
	OtherImages        []string          `json:"other_images"`
	Variants           []string          `json:"variants"`
	VariantAttributes  map[string]string `json:"variant_attributes"`
	BulletPoints       []string          `json:"bullet_points"`
	Description        string            `json:"description"`
	DateFirstAvailable *string           `json:"Date_First_Available"`
	OEMPartNumber      *string           `json:"OEM_Part_Number"`
	Marketplace        string            `json:"marketplace"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// StatusCollected marks a record freshly produced by the extractor.
const StatusCollected = "collected"

// NewProductRecord returns a record shell for the given ASIN with timestamps
// and defaults populated. The extractor fills in Cleaned.
func NewProductRecord(asin, url, marketplace string) *ProductRecord {
	now := time.Now().UTC()
	return &ProductRecord{
		ASIN:         asin,
		URL:          url,
		Status:       StatusCollected,
		Marketplace:  marketplace,
		Optimized:    Blob{},
		Translations: Blob{},
		CreatedAt:    now,
		UpdatedAt:    now,
		Cleaned: CleanedFields{
			ASIN:              asin,
			ParentASIN:        asin,
			Marketplace:       marketplace,
			OtherImages:       make([]string, 0),
			Variants:          make([]string, 0),
			VariantAttributes: make(map[string]string),
			BulletPoints:      make([]string, 0),
			UpdatedAt:         now,
		},
	}
}
