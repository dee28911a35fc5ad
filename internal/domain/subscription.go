package domain

import "time"

// SeenCapacity bounds the number of item ids remembered per subscription.
const SeenCapacity = 40

// Subscription is a user's persisted interest in a category, location and criteria.
type Subscription struct {
	ID        int64
	UserID    int64
	Title     string
	Category  string
	Location  string
	SubRegion string
	Criteria  Criteria
	// Seen holds recently dispatched item ids, newest first.
	Seen      []string
	CreatedAt time.Time
}
