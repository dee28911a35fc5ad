package ratelimit

import (
	"fmt"
	"time"

	"github.com/Proton-105/divar-watch-bot/pkg/config"
)

// Rules is the parsed rate limit section of the configuration.
type Rules struct {
	perUser Quota
	exempt  map[int64]struct{}
}

// NewRules parses the per-user window and indexes the whitelist.
func NewRules(cfg config.RateLimitConfig) (*Rules, error) {
	window, err := time.ParseDuration(cfg.PerUser.Window)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: per_user window %q: %w", cfg.PerUser.Window, err)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: per_user window %q must be positive", cfg.PerUser.Window)
	}

	exempt := make(map[int64]struct{}, len(cfg.Whitelist))
	for _, id := range cfg.Whitelist {
		exempt[id] = struct{}{}
	}
	return &Rules{
		perUser: Quota{Limit: cfg.PerUser.Limit, Window: window},
		exempt:  exempt,
	}, nil
}

func (r *Rules) PerUser() Quota { return r.perUser }

// Exempt reports whether the user bypasses throttling.
func (r *Rules) Exempt(userID int64) bool {
	_, ok := r.exempt[userID]
	return ok
}
