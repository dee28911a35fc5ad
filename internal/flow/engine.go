// Package flow turns a user's wizard answers into finished search criteria.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	"github.com/Proton-105/divar-watch-bot/internal/session"
)

var (
	// ErrStepOutOfOrder indicates an answer for a step other than the expected one.
	ErrStepOutOfOrder = errors.New("step answered out of order")
	// ErrInvalidOption indicates a value that is not among the step's options.
	ErrInvalidOption = errors.New("invalid option value")
	// ErrNoSession indicates that the user has no wizard in progress.
	ErrNoSession = errors.New("no active flow session")
)

var phaseRecorder = func(from, to string) {}

// RegisterPhaseRecorder allows external packages to observe wizard transitions.
func RegisterPhaseRecorder(recorder func(from, to string)) {
	if recorder == nil {
		phaseRecorder = func(string, string) {}
		return
	}

	phaseRecorder = recorder
}

// Finished is the terminal result of a completed wizard.
type Finished struct {
	UserID    int64
	Category  string
	Location  string
	SubRegion string
	Criteria  domain.Criteria
}

// Outcome is the result of advancing a session. Exactly one of Next or Finished is set
// once the session has reached the attribute steps.
type Outcome struct {
	Session  *session.Session
	Next     *catalog.Step
	Finished *Finished
}

// Engine drives per-user wizard sessions against the category catalog.
type Engine struct {
	catalog  *catalog.Catalog
	sessions session.Manager
	log      *slog.Logger
}

// NewEngine creates a flow engine.
func NewEngine(cat *catalog.Catalog, sessions session.Manager, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		catalog:  cat,
		sessions: sessions,
		log:      log,
	}
}

// Catalog exposes the catalog the engine validates against.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Start opens a fresh session for category, replacing any abandoned one.
func (e *Engine) Start(ctx context.Context, userID int64, category string) (*session.Session, error) {
	if _, err := e.catalog.Definition(category); err != nil {
		return nil, err
	}

	s := &session.Session{
		UserID:   userID,
		Phase:    session.PhaseLocation,
		Category: category,
		Criteria: domain.Criteria{},
	}
	if err := e.sessions.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	phaseRecorder("", string(session.PhaseLocation))
	e.log.Debug("flow started", "user_id", userID, "category", category)
	return s, nil
}

// PickCity records the city and moves the session to district selection.
func (e *Engine) PickCity(ctx context.Context, userID int64, location string) (*session.Session, *catalog.Location, error) {
	loc, err := e.catalog.Location(location)
	if err != nil {
		return nil, nil, err
	}

	s, err := e.update(ctx, userID, func(s *session.Session) error {
		if s.Phase != session.PhaseLocation && s.Phase != session.PhaseDistrict {
			return ErrStepOutOfOrder
		}
		s.Location = loc.Slug
		s.SubRegion = ""
		s.Phase = session.PhaseDistrict
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	phaseRecorder(string(session.PhaseLocation), string(session.PhaseDistrict))
	return s, loc, nil
}

// AdvanceLocation records the location and optional district and moves to the first step.
// Categories without steps finish immediately.
func (e *Engine) AdvanceLocation(ctx context.Context, userID int64, location, subRegion string) (Outcome, error) {
	loc, err := e.catalog.Location(location)
	if err != nil {
		return Outcome{}, err
	}
	if subRegion != "" && !loc.HasDistrict(subRegion) {
		return Outcome{}, fmt.Errorf("%w: district %q of %s", catalog.ErrUnknownLocation, subRegion, location)
	}

	var def *catalog.Category
	s, err := e.update(ctx, userID, func(s *session.Session) error {
		if s.Phase != session.PhaseLocation && s.Phase != session.PhaseDistrict {
			return ErrStepOutOfOrder
		}
		d, err := e.catalog.Definition(s.Category)
		if err != nil {
			return err
		}
		def = d
		s.Location = loc.Slug
		s.SubRegion = subRegion
		s.Phase = session.PhaseSteps
		s.StepIndex = 0
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	phaseRecorder(string(session.PhaseDistrict), string(session.PhaseSteps))
	return e.outcome(ctx, s, def)
}

// AnswerStep applies the answer for stepID and advances the session.
// A rejected answer leaves the session unchanged.
func (e *Engine) AnswerStep(ctx context.Context, userID int64, stepID, value string) (Outcome, error) {
	var def *catalog.Category
	s, err := e.update(ctx, userID, func(s *session.Session) error {
		if s.Phase != session.PhaseSteps {
			return ErrStepOutOfOrder
		}
		d, err := e.catalog.Definition(s.Category)
		if err != nil {
			return err
		}
		def = d
		if s.StepIndex >= len(d.Steps) || d.Steps[s.StepIndex].ID != stepID {
			return fmt.Errorf("%w: got %q", ErrStepOutOfOrder, stepID)
		}

		step := &d.Steps[s.StepIndex]
		if !step.HasOption(value) {
			return fmt.Errorf("%w: %q for step %s", ErrInvalidOption, value, step.ID)
		}
		if err := apply(s.Criteria, step, value); err != nil {
			return err
		}
		s.StepIndex++
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	return e.outcome(ctx, s, def)
}

// Current returns the in-progress session with the step it waits for, if any.
func (e *Engine) Current(ctx context.Context, userID int64) (*session.Session, *catalog.Step, error) {
	s, err := e.sessions.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil, ErrNoSession
		}
		return nil, nil, err
	}
	if s.Phase != session.PhaseSteps {
		return s, nil, nil
	}

	def, err := e.catalog.Definition(s.Category)
	if err != nil {
		return nil, nil, err
	}
	if s.StepIndex < len(def.Steps) {
		return s, &def.Steps[s.StepIndex], nil
	}
	return s, nil, nil
}

// Cancel discards the user's session. Cancelling without a session is a no-op.
func (e *Engine) Cancel(ctx context.Context, userID int64) error {
	return e.sessions.Clear(ctx, userID)
}

func (e *Engine) outcome(ctx context.Context, s *session.Session, def *catalog.Category) (Outcome, error) {
	if s.StepIndex < len(def.Steps) {
		return Outcome{Session: s, Next: &def.Steps[s.StepIndex]}, nil
	}

	if err := e.sessions.Clear(ctx, s.UserID); err != nil {
		e.log.Warn("failed to discard finished session", "user_id", s.UserID, "error", err)
	}
	phaseRecorder(string(session.PhaseSteps), "finished")

	return Outcome{
		Session: s,
		Finished: &Finished{
			UserID:    s.UserID,
			Category:  s.Category,
			Location:  s.Location,
			SubRegion: s.SubRegion,
			Criteria:  s.Criteria.Clone(),
		},
	}, nil
}

func (e *Engine) update(ctx context.Context, userID int64, fn func(*session.Session) error) (*session.Session, error) {
	s, err := e.sessions.Update(ctx, userID, fn)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNoSession
	}
	return s, err
}

// apply writes the answer into criteria following the step's mapping.
func apply(criteria domain.Criteria, step *catalog.Step, value string) error {
	switch step.Kind {
	case catalog.KindRange:
		low, high, err := catalog.ParseRange(value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
		criteria[step.Fields[0]] = low
		criteria[step.Fields[1]] = high
	case catalog.KindEnum:
		criteria[step.Field] = domain.StringValue(value)
	default:
		return fmt.Errorf("step %s: unsupported kind %q", step.ID, step.Kind)
	}
	return nil
}
