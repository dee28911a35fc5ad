// Package session keeps the in-progress subscription wizard of every user.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
)

var (
	// ErrNotFound indicates that the user has no active session.
	ErrNotFound = errors.New("session not found")
	// ErrLocked indicates that another update for the same user is in progress.
	ErrLocked = errors.New("session is locked, try again later")
)

// Phase is the wizard position of a session.
type Phase string

const (
	// PhaseLocation waits for a city.
	PhaseLocation Phase = "location"
	// PhaseDistrict has a city and waits for a district or the whole-city choice.
	PhaseDistrict Phase = "district"
	// PhaseSteps walks the category steps.
	PhaseSteps Phase = "steps"
)

// Session is the transient wizard state of one user.
type Session struct {
	UserID    int64           `json:"user_id"`
	Phase     Phase           `json:"phase"`
	Category  string          `json:"category"`
	Location  string          `json:"location,omitempty"`
	SubRegion string          `json:"sub_region,omitempty"`
	StepIndex int             `json:"step_index"`
	Criteria  domain.Criteria `json:"criteria"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Criteria = s.Criteria.Clone()
	return &out
}

// Storage persists sessions.
type Storage interface {
	Get(ctx context.Context, userID int64) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID int64) error
	// Purge removes sessions last updated before cutoff and reports how many were removed.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}
