// Package search translates subscription criteria into provider queries and
// defines the provider contract.
package search

import (
	"context"

	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
)

const (
	priceFilter = "price"
	priceMin    = "price_min"
	priceMax    = "price_max"
)

// Range is one bounded provider filter. A nil bound is left open.
type Range struct {
	Name string        `json:"value"`
	Min  *domain.Value `json:"min"`
	Max  *domain.Value `json:"max"`
}

// Query is the provider-facing shape of a subscription.
type Query struct {
	Location      string
	SubRegion     string
	CategoryToken string
	Ranges        []Range
}

// Details carries the extra data a provider can fetch for one item.
type Details struct {
	Images []string
}

// Provider executes searches against the classifieds source.
type Provider interface {
	// Search returns at most limit items in provider order.
	Search(ctx context.Context, q Query, limit int) ([]domain.Item, error)
	// FetchDetails loads the full gallery of one item.
	FetchDetails(ctx context.Context, itemID string) (Details, error)
}

// Translate builds the provider query for a subscription. The general price
// bound is applied whenever present; other bounds only when the category declares them.
func Translate(def *catalog.Category, sub *domain.Subscription) Query {
	q := Query{
		Location:      sub.Location,
		SubRegion:     sub.SubRegion,
		CategoryToken: def.ProviderToken,
	}

	if r, ok := rangeFor(priceFilter, priceMin, priceMax, sub.Criteria); ok {
		q.Ranges = append(q.Ranges, r)
	}
	for _, rf := range def.SearchRanges {
		if rf.Name == priceFilter {
			continue
		}
		if r, ok := rangeFor(rf.Name, rf.Min, rf.Max, sub.Criteria); ok {
			q.Ranges = append(q.Ranges, r)
		}
	}

	return q
}

func rangeFor(name, minField, maxField string, criteria domain.Criteria) (Range, bool) {
	lo, hasLo := criteria[minField]
	hi, hasHi := criteria[maxField]
	if !hasLo && !hasHi {
		return Range{}, false
	}

	r := Range{Name: name}
	if hasLo {
		r.Min = &lo
	}
	if hasHi {
		r.Max = &hi
	}
	return r, true
}
