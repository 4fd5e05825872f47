package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
)

// DefaultScraperURL is the scraping service used when none is configured
const DefaultScraperURL = "https://api.scraperapi.com"

const (
	titleNotFound       = "Product Title Not Found"
	descriptionNotFound = "Description Not Found"
	priceNotFound       = "Price Not Found"
	maxBodySize         = 5 << 20
)

// Scraper extracts product details through a ScraperAPI compatible service
type Scraper struct {
	apiURL string
	apiKey string
	client *http.Client
	logger *logrus.Logger
}

// NewScraper creates a scraper. An empty apiURL selects DefaultScraperURL.
func NewScraper(apiURL, apiKey string, logger *logrus.Logger) *Scraper {
	if apiURL == "" {
		apiURL = DefaultScraperURL
	}
	return &Scraper{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Scrape fetches pageURL through the scraping service. A page guarded by a
// CAPTCHA yields a Blocked placeholder rather than an error.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (*models.ScrapedProduct, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, apperr.Validation("scrape product", "product url is required")
	}

	u, err := url.Parse(s.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scraper url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", s.apiKey)
	q.Set("autoparse", "true")
	q.Set("url", pageURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build scraper request: %w", err)
	}

	log := s.logger.WithField("url", pageURL)
	resp, err := s.client.Do(req)
	if err != nil {
		log.WithError(err).Error("Scraper request failed")
		return nil, apperr.Network("scrape product", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Error("Scraper returned unexpected status")
		return nil, apperr.Network("scrape product", fmt.Errorf("scraper returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, apperr.Network("scrape product", err)
	}

	product := parseProduct(body)
	if product.Blocked {
		log.Warn("Scraper was blocked by a CAPTCHA")
	} else {
		log.WithField("title", product.Title).Debug("Product scraped")
	}
	return product, nil
}

// parseProduct reads an autoparsed JSON document or a raw HTML page
func parseProduct(body []byte) *models.ScrapedProduct {
	var bullets []string
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if doc.Find(`form[name="captcha"]`).Length() > 0 {
			return &models.ScrapedProduct{
				Title:       "CAPTCHA Detected",
				Description: "The scraper was blocked by a CAPTCHA. Please try again later.",
				Price:       priceNotFound,
				Blocked:     true,
			}
		}
		doc.Find("div#feature-bullets ul li").EachWithBreak(func(i int, sel *goquery.Selection) bool {
			bullets = append(bullets, strings.TrimSpace(sel.Text()))
			return len(bullets) < 2
		})
	}

	product := &models.ScrapedProduct{
		Title:       titleNotFound,
		Description: descriptionNotFound,
		Price:       priceNotFound,
	}
	if !gjson.ValidBytes(body) {
		if len(bullets) > 0 {
			product.Description = strings.Join(bullets, " ")
		}
		return product
	}

	data := gjson.ParseBytes(body)
	if name := data.Get("name").String(); name != "" {
		product.Title = name
	}
	if pricing := data.Get("pricing"); pricing.Exists() && pricing.String() != "" {
		product.Price = strings.NewReplacer("$", "", ",", "").Replace(pricing.String())
	}
	product.ImageURL = data.Get("images.0").String()

	switch {
	case len(bullets) > 0:
		product.Description = strings.Join(bullets, " ")
	case data.Get("small_description").String() != "":
		product.Description = data.Get("small_description").String()
	case data.Get("feature_bullets").IsArray():
		var parts []string
		for _, b := range data.Get("feature_bullets").Array() {
			if len(parts) == 2 {
				break
			}
			parts = append(parts, b.String())
		}
		if len(parts) > 0 {
			product.Description = strings.Join(parts, " ")
		}
	}
	return product
}
