// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store"
)

// Store implements every store contract over mutex-guarded maps.
type Store struct {
	mu           sync.RWMutex
	profiles     map[string]catalog.SiteProfile
	products     map[int64]catalog.Product
	observations []catalog.PriceObservation
	summaries    map[string]catalog.PriceSummary
	sessions     map[string]catalog.CrawlSession
	nextProduct  int64
	nextObs      int64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		profiles:    make(map[string]catalog.SiteProfile),
		products:    make(map[int64]catalog.Product),
		summaries:   make(map[string]catalog.PriceSummary),
		sessions:    make(map[string]catalog.CrawlSession),
		nextProduct: 1,
		nextObs:     1,
	}
}

// PutProfile seeds or replaces a site profile.
func (s *Store) PutProfile(profile catalog.SiteProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.Name] = profile
}

// ListProfiles returns all profiles sorted by name.
func (s *Store) ListProfiles(_ context.Context) ([]catalog.SiteProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.SiteProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetProfile fetches one profile by site name.
func (s *Store) GetProfile(_ context.Context, site string) (catalog.SiteProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[site]
	if !ok {
		return catalog.SiteProfile{}, store.ErrNotFound
	}
	return p, nil
}

// UpdateHealth writes back breaker state for a site.
func (s *Store) UpdateHealth(_ context.Context, site string, consecutiveFailures int, active bool, lastSuccess time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[site]
	if !ok {
		return store.ErrNotFound
	}
	p.ConsecutiveFailures = consecutiveFailures
	p.Active = active
	if !lastSuccess.IsZero() {
		p.LastSuccess = lastSuccess
	}
	s.profiles[site] = p
	return nil
}

// SaveListing upserts the product and appends one observation, atomically
// under the store lock.
func (s *Store) SaveListing(_ context.Context, listing catalog.Listing) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		product catalog.Product
		found   bool
	)
	for _, p := range s.products {
		if p.Name == listing.Name && p.SiteURLs[listing.Site] == listing.SourceURL {
			product = p
			found = true
			break
		}
	}

	now := time.Now().UTC()
	if found {
		if listing.Description != "" {
			product.Description = listing.Description
		}
		if listing.ImageURL != "" {
			product.ImageURL = listing.ImageURL
		}
		product.SiteURLs[listing.Site] = listing.SourceURL
		product.LastScraped = listing.ScrapedAt
		product.UpdatedAt = now
		s.products[product.ID] = product
	} else {
		product = catalog.Product{
			ID:          s.nextProduct,
			Name:        listing.Name,
			SKU:         listing.SKU,
			Category:    listing.Category,
			Description: listing.Description,
			ImageURL:    listing.ImageURL,
			SiteURLs:    map[string]string{listing.Site: listing.SourceURL},
			Active:      true,
			Monitored:   true,
			CreatedAt:   now,
			UpdatedAt:   now,
			LastScraped: listing.ScrapedAt,
		}
		s.nextProduct++
		s.products[product.ID] = product
	}

	s.observations = append(s.observations, catalog.PriceObservation{
		ID:        s.nextObs,
		ProductID: product.ID,
		Site:      listing.Site,
		Price:     listing.Price,
		Currency:  listing.Currency,
		Available: listing.Availability == catalog.Available,
		ScrapedAt: listing.ScrapedAt,
	})
	s.nextObs++

	return product.ID, !found, nil
}

// PutProduct seeds or replaces a product, assigning an id when absent.
func (s *Store) PutProduct(p catalog.Product) catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextProduct
		s.nextProduct++
	} else if p.ID >= s.nextProduct {
		s.nextProduct = p.ID + 1
	}
	s.products[p.ID] = p
	return p
}

// GetProduct fetches one product by id.
func (s *Store) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, store.ErrNotFound
	}
	return p, nil
}

// ListMonitored returns active, monitored products sorted by id.
func (s *Store) ListMonitored(_ context.Context) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Product
	for _, p := range s.products {
		if p.Active && p.Monitored {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendObservation seeds an observation directly (test helper).
func (s *Store) AppendObservation(obs catalog.PriceObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs.ID = s.nextObs
	s.nextObs++
	s.observations = append(s.observations, obs)
}

// ListWindow returns observations with ScrapedAt in [from, to).
func (s *Store) ListWindow(_ context.Context, from, to time.Time) ([]catalog.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.PriceObservation
	for _, o := range s.observations {
		if !o.ScrapedAt.Before(from) && o.ScrapedAt.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func summaryKey(productID int64, date time.Time) string {
	return date.UTC().Format("2006-01-02") + "/" + strconv.FormatInt(productID, 10)
}

// UpsertSummary writes the summary for (product, date), replacing any
// existing row.
func (s *Store) UpsertSummary(_ context.Context, summary catalog.PriceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summaryKey(summary.ProductID, summary.Date)] = summary
	return nil
}

// ListSummaries returns summaries for a product with Date in [from, to),
// ordered by date.
func (s *Store) ListSummaries(_ context.Context, productID int64, from, to time.Time) ([]catalog.PriceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.PriceSummary
	for _, sum := range s.summaries {
		if sum.ProductID == productID && !sum.Date.Before(from) && sum.Date.Before(to) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ListSummariesSince returns all summaries dated at or after since, ordered
// by product then date.
func (s *Store) ListSummariesSince(_ context.Context, since time.Time) ([]catalog.PriceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.PriceSummary
	for _, sum := range s.summaries {
		if !sum.Date.Before(since) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// LatestSummary returns the most recent summary for a product.
func (s *Store) LatestSummary(_ context.Context, productID int64) (catalog.PriceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest catalog.PriceSummary
		found  bool
	)
	for _, sum := range s.summaries {
		if sum.ProductID != productID {
			continue
		}
		if !found || sum.Date.After(latest.Date) {
			latest = sum
			found = true
		}
	}
	if !found {
		return catalog.PriceSummary{}, store.ErrNotFound
	}
	return latest, nil
}

// CreateSession appends a session audit row.
func (s *Store) CreateSession(_ context.Context, session catalog.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

// UpdateSession sets status, error text and counters; terminal states stamp
// the end time.
func (s *Store) UpdateSession(_ context.Context, id string, status catalog.SessionStatus, errText string, counters catalog.SessionCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.Status = status
	sess.ErrorText = errText
	sess.Counters = counters
	if status.Terminal() {
		now := time.Now().UTC()
		sess.EndedAt = &now
	}
	s.sessions[id] = sess
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(_ context.Context, id string) (catalog.CrawlSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return catalog.CrawlSession{}, store.ErrNotFound
	}
	return sess, nil
}
