package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/partswatch/partswatch/internal/catalog"
)

// Selector map fields understood by the default extractor.
const (
	FieldProductLink  = "product_link"
	FieldPagination   = "pagination"
	FieldTitle        = "title"
	FieldPrice        = "price"
	FieldDescription  = "description"
	FieldCategory     = "category"
	FieldAvailability = "availability"
	FieldImage        = "image"
)

// fallbackSelectors are tried when a site profile omits a field locator.
var fallbackSelectors = map[string]string{
	FieldProductLink:  `a[href*="/product/"]`,
	FieldPagination:   ".pagination a, .page-numbers a",
	FieldTitle:        "h1, .product-title, .entry-title",
	FieldPrice:        ".price, .product-price, .woocommerce-Price-amount",
	FieldDescription:  ".product-description, .woocommerce-product-details__short-description, .product-summary",
	FieldCategory:     ".breadcrumb a, .breadcrumbs a",
	FieldAvailability: ".availability, .stock-status, .in-stock, .out-of-stock",
	FieldImage:        ".product-image img, .wp-post-image, .attachment-shop_single img",
}

// SiteExtractor is the per-site capability contract. Sites with behavioral
// quirks register an implementation keyed by site name; everything else uses
// the selector-map default.
type SiteExtractor interface {
	StartURLs(profile catalog.SiteProfile) []string
	ProductLinks(doc *goquery.Document, base *url.URL, profile catalog.SiteProfile) []string
	NextPage(doc *goquery.Document, base *url.URL, profile catalog.SiteProfile) string
	Listing(doc *goquery.Document, pageURL string, profile catalog.SiteProfile) (catalog.Listing, bool)
}

// Registry maps site names to extractor implementations.
type Registry struct {
	extractors map[string]SiteExtractor
}

// NewRegistry constructs a Registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]SiteExtractor)}
}

// Register installs a site-specific extractor.
func (r *Registry) Register(site string, ex SiteExtractor) {
	r.extractors[strings.ToLower(site)] = ex
}

// For returns the extractor for a site, falling back to the default.
func (r *Registry) For(site string) SiteExtractor {
	if ex, ok := r.extractors[strings.ToLower(site)]; ok {
		return ex
	}
	return DefaultExtractor{}
}

// DefaultExtractor extracts fields via the profile selector map with generic
// fallback locators.
type DefaultExtractor struct{}

// StartURLs seeds the crawl with common storefront entry points.
func (DefaultExtractor) StartURLs(profile catalog.SiteProfile) []string {
	base := strings.TrimRight(profile.BaseURL, "/")
	return []string{
		base + "/",
		base + "/products/",
		base + "/shop/",
		base + "/category/",
	}
}

// ProductLinks returns absolute product page URLs found in doc.
func (DefaultExtractor) ProductLinks(doc *goquery.Document, base *url.URL, profile catalog.SiteProfile) []string {
	sel := selectorFor(profile, FieldProductLink)
	var links []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		if abs := resolveURL(base, href); abs != "" {
			links = append(links, abs)
		}
	})
	return links
}

// NextPage returns the absolute URL of the next pagination page, if any.
func (DefaultExtractor) NextPage(doc *goquery.Document, base *url.URL, profile catalog.SiteProfile) string {
	sel := selectorFor(profile, FieldPagination)
	next := ""
	doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		text := strings.ToLower(s.Text() + " " + href)
		for _, marker := range []string{"next", "بعدی", "»", ">"} {
			if strings.Contains(text, marker) {
				next = resolveURL(base, href)
				return false
			}
		}
		return true
	})
	return next
}

// Listing extracts one listing from a product page. The second return is
// false when the page does not look like a product page (no title and no
// price), letting the orchestrator treat it as a navigation page.
func (DefaultExtractor) Listing(doc *goquery.Document, pageURL string, profile catalog.SiteProfile) (catalog.Listing, bool) {
	name := CleanText(firstText(doc, profile, FieldTitle))
	priceText := firstText(doc, profile, FieldPrice)
	if priceText == "" {
		// WooCommerce nests the amount inside a bdi element.
		priceText = doc.Find(selectorFor(profile, FieldPrice) + " bdi").First().Text()
	}
	if name == "" && priceText == "" {
		return catalog.Listing{}, false
	}

	listing := catalog.Listing{
		Site:         profile.Name,
		SourceURL:    pageURL,
		Name:         name,
		Currency:     catalog.DefaultCurrency,
		Description:  CleanText(firstText(doc, profile, FieldDescription)),
		Category:     extractCategory(doc, profile),
		Availability: ClassifyAvailability(firstText(doc, profile, FieldAvailability)),
	}

	if price, err := CleanPrice(priceText); err == nil {
		listing.Price = price
	}

	if base, err := url.Parse(pageURL); err == nil {
		if src, ok := doc.Find(selectorFor(profile, FieldImage)).First().Attr("src"); ok {
			listing.ImageURL = resolveURL(base, src)
		}
	}

	listing.SKU = GenerateSKU(profile.Name, listing.Name, pageURL)
	return listing, true
}

// extractCategory walks breadcrumbs first (second-to-last crumb is the usual
// category slot), then falls back to the fixed default.
func extractCategory(doc *goquery.Document, profile catalog.SiteProfile) string {
	sel := selectorFor(profile, FieldCategory)
	crumbs := doc.Find(sel).Map(func(_ int, s *goquery.Selection) string {
		return CleanText(s.Text())
	})
	if len(crumbs) > 1 {
		if c := crumbs[len(crumbs)-2]; c != "" {
			return c
		}
	}
	if cat := CleanText(doc.Find(".product-category a, .category-link").First().Text()); cat != "" {
		return cat
	}
	return catalog.DefaultCategory
}

func selectorFor(profile catalog.SiteProfile, field string) string {
	if sel, ok := profile.Selectors[field]; ok && sel != "" {
		return sel
	}
	return fallbackSelectors[field]
}

func firstText(doc *goquery.Document, profile catalog.SiteProfile, field string) string {
	return strings.TrimSpace(doc.Find(selectorFor(profile, field)).First().Text())
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
