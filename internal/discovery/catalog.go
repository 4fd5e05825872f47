// Package discovery finds products that can be turned into wishes: a
// catalog search over the supported marketplaces and a scraper that extracts
// product details from a page URL.
package discovery

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
)

// Sources supported by the catalog
const (
	SourceAll    = "all"
	SourceAmazon = "amazon"
	SourceEtsy   = "etsy"
)

// DefaultDelay is the simulated marketplace latency of the production catalog
const DefaultDelay = 800 * time.Millisecond

var catalog = map[string][]models.Product{
	SourceAmazon: {
		{
			ID:          "1",
			Title:       "Sony WH-1000XM4 Wireless Noise Cancelling Headphones",
			Description: "Industry-leading noise canceling with Dual Noise Sensor technology. Next-level music with Edge-AI, co-developed with Sony Music Studios Tokyo.",
			Price:       "348.00",
			ImageURL:    "https://images.unsplash.com/photo-1505740420928-5e560c06d30e?w=500",
			Source:      SourceAmazon,
			Rating:      4.8,
			Reviews:     2345,
			URL:         "https://amazon.com/sony-wh1000xm4",
			Metadata: &models.ProductMetadata{
				Brand:        "Sony",
				Availability: "In Stock",
				Specifications: map[string]string{
					"Battery Life": "Up to 30 hours",
					"Color":        "Black",
					"Connectivity": "Bluetooth 5.0",
				},
			},
		},
		{
			ID:          "2",
			Title:       "Amazon Basic Product",
			Description: "High-quality Amazon product with premium features",
			Price:       "199.99",
			ImageURL:    "https://images.unsplash.com/photo-1523275335684-37898b6baf30?w=500",
			Source:      SourceAmazon,
			Rating:      4.5,
			Reviews:     1234,
			Metadata:    &models.ProductMetadata{Brand: "Amazon Basics", Availability: "In Stock"},
		},
	},
	SourceEtsy: {
		{
			ID:          "3",
			Title:       "Handcrafted Leather Wallet",
			Description: "Premium handmade leather wallet, carefully crafted with genuine full-grain leather. Perfect for everyday use with multiple card slots and bill compartments.",
			Price:       "45.00",
			ImageURL:    "https://images.unsplash.com/photo-1627123364843-8c6b67b7a402?w=500",
			Source:      SourceEtsy,
			Rating:      4.9,
			Reviews:     856,
			URL:         "https://etsy.com/handmade-wallet",
			Metadata: &models.ProductMetadata{
				Brand:        "LeatherCraft",
				Availability: "Made to order",
				Specifications: map[string]string{
					"Material":   "Full grain leather",
					"Color":      "Brown",
					"Dimensions": `4.5" x 3.5"`,
				},
			},
		},
		{
			ID:          "4",
			Title:       "Handmade Etsy Item",
			Description: "Beautifully crafted handmade item from a skilled artisan",
			Price:       "59.99",
			ImageURL:    "https://images.unsplash.com/photo-1544441893-675973e31985?w=500",
			Source:      SourceEtsy,
			Rating:      4.7,
			Reviews:     432,
			Metadata:    &models.ProductMetadata{Brand: "Artisan Crafts", Availability: "Ready to ship"},
		},
	},
}

// Catalog searches the built-in product catalog
type Catalog struct {
	// Delay simulates marketplace latency
	Delay time.Duration
}

// NewCatalog creates a catalog answering after delay
func NewCatalog(delay time.Duration) *Catalog {
	return &Catalog{Delay: delay}
}

// Search returns the products of source ("" or "all" for every source).
// Products whose title, description or brand contain query come first.
func (c *Catalog) Search(ctx context.Context, query, source string) ([]models.Product, error) {
	var products []models.Product
	switch source {
	case "", SourceAll:
		products = append(slices.Clone(catalog[SourceAmazon]), catalog[SourceEtsy]...)
	case SourceAmazon, SourceEtsy:
		products = slices.Clone(catalog[source])
	default:
		return nil, apperr.Validation("search products", "unknown source "+source)
	}

	if c.Delay > 0 {
		timer := time.NewTimer(c.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return products, nil
	}
	slices.SortStableFunc(products, func(a, b models.Product) int {
		ma, mb := matches(a, query), matches(b, query)
		switch {
		case ma && !mb:
			return -1
		case mb && !ma:
			return 1
		}
		return 0
	})
	return products, nil
}

func matches(p models.Product, query string) bool {
	fields := []string{p.Title, p.Description}
	if p.Metadata != nil {
		fields = append(fields, p.Metadata.Brand)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}
