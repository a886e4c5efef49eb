package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// ProductSelectors are the CSS selectors the product extractor reads.
type ProductSelectors struct {
	Details     string `json:"details" yaml:"details"`
	Name        string `json:"name" yaml:"name"`
	Price       string `json:"price" yaml:"price"`
	Description string `json:"description" yaml:"description"`
	Images      string `json:"images" yaml:"images"`
	SpecRows    string `json:"spec_rows" yaml:"spec_rows"`
	InStock     string `json:"in_stock" yaml:"in_stock"`
}

// DefaultProductSelectors returns selectors for a conventional product page.
func DefaultProductSelectors() ProductSelectors {
	return ProductSelectors{
		Details:     ".product-details",
		Name:        ".product-name",
		Price:       ".product-price",
		Description: ".product-description",
		Images:      ".product-image img",
		SpecRows:    ".product-specs tr",
		InStock:     ".in-stock",
	}
}

// Product record keys.
const (
	KeyIsProduct      = "is_product"
	KeyProductName    = "product_name"
	KeyProductPrice   = "product_price"
	KeyDescription    = "description"
	KeyImageURLs      = "image_urls"
	KeySpecifications = "specifications"
	KeyInStock        = "in_stock"
)

// Product extracts product details from the rendered markup. Pages without
// the details container produce a minimal record flagged is_product=false.
type Product struct {
	Selectors ProductSelectors
}

var _ page.Extractor = (*Product)(nil)

// NewProduct creates a product extractor with the default selectors.
func NewProduct() *Product {
	return &Product{Selectors: DefaultProductSelectors()}
}

// Extract implements page.Extractor.
func (e *Product) Extract(ctx context.Context, p page.RenderedPage) (page.Record, error) {
	current, err := p.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("current url: %w", err)
	}
	title, err := p.Title(ctx)
	if err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}

	markup, err := p.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	sel := e.Selectors
	record := page.Record{
		page.KeyURL:   current,
		page.KeyTitle: title,
	}

	if doc.Find(sel.Details).Length() == 0 {
		record[KeyIsProduct] = false
		return record, nil
	}

	record[KeyIsProduct] = true
	record[KeyProductName] = text(doc, sel.Name)
	record[KeyProductPrice] = text(doc, sel.Price)
	record[KeyDescription] = text(doc, sel.Description)

	images := make([]string, 0)
	doc.Find(sel.Images).Each(func(_ int, s *goquery.Selection) {
		src, exists := s.Attr("src")
		if !exists || src == "" {
			return
		}
		if abs, err := resolveAny(current, src); err == nil {
			src = abs
		}
		images = append(images, src)
	})
	record[KeyImageURLs] = images

	specs := make(map[string]string)
	doc.Find(sel.SpecRows).Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		if key == "" {
			return
		}
		specs[key] = strings.TrimSpace(row.Find("td").First().Text())
	})
	record[KeySpecifications] = specs

	record[KeyInStock] = doc.Find(sel.InStock).Length() > 0
	return record, nil
}

func text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}
