package domain

import "time"

// Item is a classified returned by the search provider. Only its ID is ever persisted.
type Item struct {
	ID          string
	Title       string
	Description string
	Price       string
	Location    string
	SubRegion   string
	Images      []string
	URL         string
	Phone       string
	PublishedAt time.Time
}
