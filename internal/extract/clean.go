// Package extract implements field extraction and normalization for scraped
// listings: selector-driven lookup, price text cleaning with Persian and
// Arabic digit folding, availability classification and stable SKU
// generation.
package extract

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/partswatch/partswatch/internal/catalog"
)

// ErrUnparsablePrice is returned when no positive decimal can be recovered
// from the raw price text.
var ErrUnparsablePrice = errors.New("unparsable price text")

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	nonPriceRe   = regexp.MustCompile(`[^\d.,]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// digitFolds maps Persian (U+06F0..U+06F9) and Arabic-Indic (U+0660..U+0669)
// digit glyphs plus their separators onto ASCII equivalents.
var digitFolds = map[rune]rune{
	'۰': '0', '۱': '1', '۲': '2', '۳': '3', '۴': '4',
	'۵': '5', '۶': '6', '۷': '7', '۸': '8', '۹': '9',
	'٠': '0', '١': '1', '٢': '2', '٣': '3', '٤': '4',
	'٥': '5', '٦': '6', '٧': '7', '٨': '8', '٩': '9',
	'٬': ',', '٫': '.',
}

// FoldDigits rewrites Persian/Arabic digit glyphs to their ASCII forms.
func FoldDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if folded, ok := digitFolds[r]; ok {
			return folded
		}
		return r
	}, s)
}

// CleanPrice parses raw price text into a positive decimal. Digit glyphs are
// folded to ASCII, currency words and markup stripped, and thousands
// separators removed before parsing.
func CleanPrice(raw string) (float64, error) {
	folded := FoldDigits(raw)
	cleaned := nonPriceRe.ReplaceAllString(folded, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnparsablePrice, raw)
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsablePrice, raw)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive value in %q", ErrUnparsablePrice, raw)
	}
	return price, nil
}

// CleanText strips markup and collapses runs of whitespace.
func CleanText(raw string) string {
	s := tagRe.ReplaceAllString(raw, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var (
	availableWords   = []string{"موجود", "available", "in stock", "add to cart", "افزودن به سبد"}
	unavailableWords = []string{"ناموجود", "unavailable", "out of stock", "اتمام موجودی"}
)

// ClassifyAvailability classifies raw availability text by keyword
// containment in both Persian and English vocabularies. Ambiguous text counts
// as available. The unavailable vocabulary is checked first because
// "ناموجود" contains "موجود".
func ClassifyAvailability(raw string) catalog.Availability {
	text := strings.ToLower(strings.TrimSpace(raw))
	for _, w := range unavailableWords {
		if strings.Contains(text, w) {
			return catalog.Unavailable
		}
	}
	for _, w := range availableWords {
		if strings.Contains(text, w) {
			return catalog.Available
		}
	}
	return catalog.Available
}

// stopWords excluded from dedup signatures; generic commerce filler in both
// vocabularies.
var stopWords = map[string]struct{}{
	"و": {}, "از": {}, "با": {}, "برای": {}, "در": {},
	"the": {}, "a": {}, "an": {}, "and": {}, "of": {}, "for": {}, "with": {},
	"اصلی": {}, "original": {}, "new": {},
}

// Signature derives a session-dedup key from a product name: digit-folded,
// lowercased, stop-word-filtered token set joined in sorted order. Digit
// variants of the same name ("تست ۱" vs "تست 1") produce identical keys.
func Signature(name string) string {
	folded := strings.ToLower(FoldDigits(CleanText(name)))
	tokens := strings.Fields(folded)
	uniq := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, skip := stopWords[tok]; skip {
			continue
		}
		uniq[tok] = struct{}{}
	}
	out := make([]string, 0, len(uniq))
	for tok := range uniq {
		out = append(out, tok)
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

// GenerateSKU builds a stable identifier scoped to a site. It hashes the
// normalized product name, or the source URL when the name is empty, so
// re-crawls of the same page always produce the same SKU.
func GenerateSKU(site, name, sourceURL string) string {
	seed := CleanText(name)
	if seed == "" {
		seed = sourceURL
	}
	sum := md5.Sum([]byte(seed))
	return fmt.Sprintf("%s-%s", strings.ToUpper(site), hex.EncodeToString(sum[:])[:8])
}
