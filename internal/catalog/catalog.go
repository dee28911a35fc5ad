// Package catalog holds the static category, step and location definitions
// that drive the subscription wizard.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
)

// RangeDelimiter separates the two bounds of a range option value.
const RangeDelimiter = "-"

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	// ErrUnknownCategory indicates that the category is not registered.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUnknownLocation indicates that the city or district is not registered.
	ErrUnknownLocation = errors.New("unknown location")
	// ErrUnknownField indicates criteria carrying a field the category does not map.
	ErrUnknownField = errors.New("unknown criteria field")
)

// Kind is the kind of a wizard step.
type Kind string

const (
	KindRange Kind = "range"
	KindEnum  Kind = "enum"
)

// Option is one selectable choice of a step.
type Option struct {
	Label string `yaml:"label" validate:"required"`
	Value string `yaml:"value" validate:"required"`
}

// Step is one ordered question of a category flow.
type Step struct {
	ID     string `yaml:"id" validate:"required"`
	Prompt string `yaml:"prompt" validate:"required"`
	// Title is the short name shown in summaries; defaults to the prompt.
	Title string `yaml:"title"`
	Kind  Kind   `yaml:"kind" validate:"required,oneof=range enum"`
	// Fields are the low/high criteria fields written by a range step.
	Fields []string `yaml:"fields"`
	// Field is the criteria field written by an enum step; defaults to ID.
	Field   string   `yaml:"field"`
	Options []Option `yaml:"options" validate:"min=2,max=6,dive"`
}

// HasOption reports whether value is one of the declared option values.
func (s *Step) HasOption(value string) bool {
	for _, opt := range s.Options {
		if opt.Value == value {
			return true
		}
	}
	return false
}

// Label returns the short name of the step.
func (s *Step) Label() string {
	if s.Title != "" {
		return s.Title
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s.Prompt), ":"))
}

// Selected returns the option whose value produced the step's fields in criteria.
func (s *Step) Selected(criteria domain.Criteria) (Option, bool) {
	var value string
	switch s.Kind {
	case KindRange:
		if len(s.Fields) != 2 {
			return Option{}, false
		}
		low, okLow := criteria[s.Fields[0]]
		high, okHigh := criteria[s.Fields[1]]
		if !okLow || !okHigh {
			return Option{}, false
		}
		value = low.String() + RangeDelimiter + high.String()
	default:
		v, ok := criteria[s.Field]
		if !ok {
			return Option{}, false
		}
		value = v.String()
	}

	for _, opt := range s.Options {
		if opt.Value == value {
			return opt, true
		}
	}
	return Option{Value: value}, true
}

// MappedFields lists the criteria fields the step writes.
func (s *Step) MappedFields() []string {
	if s.Kind == KindRange {
		return s.Fields
	}
	return []string{s.Field}
}

// RangeFilter maps a provider-side range filter to a pair of criteria fields.
type RangeFilter struct {
	Name string `yaml:"name" validate:"required"`
	Min  string `yaml:"min" validate:"required"`
	Max  string `yaml:"max" validate:"required"`
}

// Category is an immutable category definition.
type Category struct {
	ID            string        `yaml:"id" validate:"required"`
	Title         string        `yaml:"title" validate:"required"`
	ProviderToken string        `yaml:"provider_token" validate:"required"`
	SearchRanges  []RangeFilter `yaml:"search_ranges" validate:"dive"`
	Steps         []Step        `yaml:"steps" validate:"max=5,dive"`
}

// Fields returns every criteria field the category's steps can write, in step order.
func (c *Category) Fields() []string {
	var fields []string
	for i := range c.Steps {
		fields = append(fields, c.Steps[i].MappedFields()...)
	}
	return fields
}

// ValidateCriteria checks that every criteria field belongs to the category.
func (c *Category) ValidateCriteria(criteria domain.Criteria) error {
	allowed := make(map[string]struct{})
	for _, f := range c.Fields() {
		allowed[f] = struct{}{}
	}
	for _, field := range criteria.Fields() {
		if _, ok := allowed[field]; !ok {
			return fmt.Errorf("%w: %s for category %s", ErrUnknownField, field, c.ID)
		}
	}
	return nil
}

// Location is a city with its optional districts.
type Location struct {
	Slug      string   `yaml:"slug" validate:"required"`
	Title     string   `yaml:"title" validate:"required"`
	Districts []string `yaml:"districts"`
}

// HasDistrict reports whether district is listed for the city.
func (l *Location) HasDistrict(district string) bool {
	for _, d := range l.Districts {
		if d == district {
			return true
		}
	}
	return false
}

type document struct {
	Locations  []Location `yaml:"locations" validate:"required,dive"`
	Categories []Category `yaml:"categories" validate:"required,dive"`
}

// Catalog is a validated, read-only set of categories and locations.
type Catalog struct {
	categories []*Category
	byID       map[string]*Category
	locations  []*Location
	bySlug     map[string]*Location
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads and validates a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	// #nosec G304: the catalog path comes from trusted configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	for i := range doc.Categories {
		for j := range doc.Categories[i].Steps {
			step := &doc.Categories[i].Steps[j]
			if step.Kind == KindEnum && step.Field == "" {
				step.Field = step.ID
			}
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("catalog: validate: %w", err)
	}

	c := &Catalog{
		byID:   make(map[string]*Category, len(doc.Categories)),
		bySlug: make(map[string]*Location, len(doc.Locations)),
	}

	for i := range doc.Locations {
		loc := &doc.Locations[i]
		if _, dup := c.bySlug[loc.Slug]; dup {
			return nil, fmt.Errorf("catalog: duplicate location %q", loc.Slug)
		}
		c.bySlug[loc.Slug] = loc
		c.locations = append(c.locations, loc)
	}

	for i := range doc.Categories {
		cat := &doc.Categories[i]
		if _, dup := c.byID[cat.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate category %q", cat.ID)
		}
		if err := checkCategory(cat); err != nil {
			return nil, fmt.Errorf("catalog: category %s: %w", cat.ID, err)
		}
		c.byID[cat.ID] = cat
		c.categories = append(c.categories, cat)
	}

	return c, nil
}

// Definition returns the category definition for id.
func (c *Catalog) Definition(id string) (*Category, error) {
	cat, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, id)
	}
	return cat, nil
}

// Categories returns all categories in declaration order.
func (c *Catalog) Categories() []*Category {
	return c.categories
}

// Location returns the city registered under slug.
func (c *Catalog) Location(slug string) (*Location, error) {
	loc, ok := c.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, slug)
	}
	return loc, nil
}

// Locations returns all cities in declaration order.
func (c *Catalog) Locations() []*Location {
	return c.locations
}

// SplitRange splits a range option value into its two bound tokens.
func SplitRange(value string) (low, high string, ok bool) {
	low, high, ok = strings.Cut(value, RangeDelimiter)
	if !ok || low == "" || high == "" {
		return "", "", false
	}
	return low, high, true
}

// ParseRange splits value and returns integer bounds when both halves are integers.
func ParseRange(value string) (low, high domain.Value, err error) {
	lo, hi, ok := SplitRange(value)
	if !ok {
		return domain.Value{}, domain.Value{}, fmt.Errorf("range value %q: missing %q delimiter", value, RangeDelimiter)
	}

	loInt, loErr := strconv.ParseInt(lo, 10, 64)
	hiInt, hiErr := strconv.ParseInt(hi, 10, 64)
	if loErr == nil && hiErr == nil {
		return domain.IntValue(loInt), domain.IntValue(hiInt), nil
	}
	return domain.StringValue(lo), domain.StringValue(hi), nil
}

func checkCategory(cat *Category) error {
	seenFields := make(map[string]string)
	seenSteps := make(map[string]struct{})

	for i := range cat.Steps {
		step := &cat.Steps[i]
		if _, dup := seenSteps[step.ID]; dup {
			return fmt.Errorf("duplicate step %q", step.ID)
		}
		seenSteps[step.ID] = struct{}{}

		switch step.Kind {
		case KindRange:
			if len(step.Fields) != 2 || step.Fields[0] == "" || step.Fields[1] == "" || step.Fields[0] == step.Fields[1] {
				return fmt.Errorf("step %q: range steps map exactly two distinct fields", step.ID)
			}
		case KindEnum:
			if len(step.Fields) != 0 {
				return fmt.Errorf("step %q: enum steps map a single field", step.ID)
			}
		}

		for _, field := range step.MappedFields() {
			if owner, dup := seenFields[field]; dup {
				return fmt.Errorf("field %q mapped by both %q and %q", field, owner, step.ID)
			}
			seenFields[field] = step.ID
		}

		values := make(map[string]struct{}, len(step.Options))
		for _, opt := range step.Options {
			if _, dup := values[opt.Value]; dup {
				return fmt.Errorf("step %q: duplicate option %q", step.ID, opt.Value)
			}
			values[opt.Value] = struct{}{}

			if step.Kind == KindRange {
				if err := checkRangeValue(opt.Value); err != nil {
					return fmt.Errorf("step %q: %w", step.ID, err)
				}
			}
		}
	}

	for _, rf := range cat.SearchRanges {
		if _, ok := seenFields[rf.Min]; !ok {
			return fmt.Errorf("search range %q: field %q is not mapped by any step", rf.Name, rf.Min)
		}
		if _, ok := seenFields[rf.Max]; !ok {
			return fmt.Errorf("search range %q: field %q is not mapped by any step", rf.Name, rf.Max)
		}
	}

	return nil
}

func checkRangeValue(value string) error {
	lo, hi, ok := SplitRange(value)
	if !ok {
		return fmt.Errorf("option %q: expected two bounds joined by %q", value, RangeDelimiter)
	}
	_, loErr := strconv.ParseInt(lo, 10, 64)
	_, hiErr := strconv.ParseInt(hi, 10, 64)
	if (loErr == nil) != (hiErr == nil) {
		return fmt.Errorf("option %q: bounds mix integer and string tokens", value)
	}
	return nil
}
