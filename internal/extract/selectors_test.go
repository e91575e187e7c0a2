package extract

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partswatch/partswatch/internal/catalog"
)

const productPage = `
<html><body>
  <nav class="breadcrumb">
    <a href="/">خانه</a>
    <a href="/cat/brakes">لنت ترمز</a>
    <a href="/p/100">لنت ترمز جلو پراید</a>
  </nav>
  <h1>لنت ترمز جلو پراید</h1>
  <span class="price">۴۵۰,۰۰۰ ریال</span>
  <div class="product-description">لنت ترمز   جلو با کیفیت</div>
  <div class="stock-status">موجود</div>
  <div class="product-image"><img src="/img/100.jpg"></div>
</body></html>`

const listPage = `
<html><body>
  <a href="/product/100">لنت ترمز</a>
  <a href="/product/101">فیلتر روغن</a>
  <a href="/about">درباره ما</a>
  <div class="pagination"><a href="/shop?page=2">بعدی</a></div>
</body></html>`

func testProfile() catalog.SiteProfile {
	return catalog.SiteProfile{
		Name:    "automoby",
		BaseURL: "https://automoby.ir",
		Active:  true,
	}
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestDefaultExtractorListing(t *testing.T) {
	doc := mustDoc(t, productPage)
	listing, ok := DefaultExtractor{}.Listing(doc, "https://automoby.ir/p/100", testProfile())

	require.True(t, ok)
	assert.Equal(t, "لنت ترمز جلو پراید", listing.Name)
	assert.Equal(t, float64(450000), listing.Price)
	assert.Equal(t, "لنت ترمز", listing.Category)
	assert.Equal(t, catalog.Available, listing.Availability)
	assert.Equal(t, "https://automoby.ir/img/100.jpg", listing.ImageURL)
	assert.Equal(t, "لنت ترمز جلو با کیفیت", listing.Description)
	assert.True(t, strings.HasPrefix(listing.SKU, "AUTOMOBY-"))
}

func TestDefaultExtractorNavigationPage(t *testing.T) {
	doc := mustDoc(t, listPage)
	base, _ := url.Parse("https://automoby.ir/shop")
	profile := testProfile()

	_, ok := DefaultExtractor{}.Listing(doc, "https://automoby.ir/shop", profile)
	assert.False(t, ok, "list page has no title/price and is not a listing")

	links := DefaultExtractor{}.ProductLinks(doc, base, profile)
	assert.ElementsMatch(t, []string{
		"https://automoby.ir/product/100",
		"https://automoby.ir/product/101",
	}, links)

	next := DefaultExtractor{}.NextPage(doc, base, profile)
	assert.Equal(t, "https://automoby.ir/shop?page=2", next)
}

func TestDefaultExtractorSiteSelectorsOverride(t *testing.T) {
	html := `<html><body><h2 class="t">تسمه تایم</h2><div class="p">۹۹,۰۰۰</div></body></html>`
	doc := mustDoc(t, html)
	profile := testProfile()
	profile.Selectors = map[string]string{
		FieldTitle: ".t",
		FieldPrice: ".p",
	}

	listing, ok := DefaultExtractor{}.Listing(doc, "https://automoby.ir/p/9", profile)
	require.True(t, ok)
	assert.Equal(t, "تسمه تایم", listing.Name)
	assert.Equal(t, float64(99000), listing.Price)
	assert.Equal(t, catalog.DefaultCategory, listing.Category)
}

func TestRegistryFallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	assert.IsType(t, DefaultExtractor{}, r.For("unknown-site"))

	r.Register("automoby", DefaultExtractor{})
	assert.NotNil(t, r.For("AutoMoby"))
}

func TestStartURLs(t *testing.T) {
	urls := DefaultExtractor{}.StartURLs(testProfile())
	require.Len(t, urls, 4)
	assert.Equal(t, "https://automoby.ir/", urls[0])
	assert.Contains(t, urls, "https://automoby.ir/shop/")
}
