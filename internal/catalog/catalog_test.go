package catalog

import (
	"errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
)

func TestDefault_LoadsAllCategories(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	ids := make([]string, 0, len(c.Categories()))
	for _, cat := range c.Categories() {
		ids = append(ids, cat.ID)
	}
	assert.Equal(t, []string{
		"car", "real_estate", "jobs", "mobile", "electronics",
		"fashion", "home", "entertainment", "animals",
	}, ids)

	car, err := c.Definition("car")
	require.NoError(t, err)
	assert.Equal(t, "cars", car.ProviderToken)
	assert.Equal(t, []string{"mileage_min", "mileage_max", "year_min", "year_max", "price_min", "price_max"}, car.Fields())
	assert.Len(t, car.SearchRanges, 2)

	realEstate, err := c.Definition("real_estate")
	require.NoError(t, err)
	assert.Len(t, realEstate.Steps, 5)
	assert.Equal(t, "deal", realEstate.Steps[0].Field)

	jobs, err := c.Definition("jobs")
	require.NoError(t, err)
	salary, ok := lo.Find(jobs.Steps, func(s Step) bool { return s.ID == "salary" })
	require.True(t, ok)
	assert.Equal(t, []string{"price_min", "price_max"}, salary.Fields)

	assert.Len(t, c.Locations(), 6)
	tehran, err := c.Location("tehran")
	require.NoError(t, err)
	assert.True(t, tehran.HasDistrict("لواسان"))
	assert.False(t, tehran.HasDistrict("طرقبه"))
}

func TestDefinition_Unknown(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	_, err = c.Definition("spaceships")
	assert.True(t, errors.Is(err, ErrUnknownCategory))

	_, err = c.Location("atlantis")
	assert.True(t, errors.Is(err, ErrUnknownLocation))
}

func TestParse_RejectsInconsistentCatalogs(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{
			name: "duplicate field",
			doc: `
locations: [{slug: a, title: A}]
categories:
  - id: x
    title: X
    provider_token: x
    steps:
      - {id: s1, prompt: p, kind: range, fields: [price_min, price_max], options: [{label: a, value: "1-2"}, {label: b, value: "2-3"}]}
      - {id: s2, prompt: p, kind: range, fields: [price_min, other], options: [{label: a, value: "1-2"}, {label: b, value: "2-3"}]}
`,
		},
		{
			name: "range option without delimiter",
			doc: `
locations: [{slug: a, title: A}]
categories:
  - id: x
    title: X
    provider_token: x
    steps:
      - {id: s1, prompt: p, kind: range, fields: [lo, hi], options: [{label: a, value: "12"}, {label: b, value: "2-3"}]}
`,
		},
		{
			name: "range option mixing kinds",
			doc: `
locations: [{slug: a, title: A}]
categories:
  - id: x
    title: X
    provider_token: x
    steps:
      - {id: s1, prompt: p, kind: range, fields: [lo, hi], options: [{label: a, value: "1-x"}, {label: b, value: "2-3"}]}
`,
		},
		{
			name: "too few options",
			doc: `
locations: [{slug: a, title: A}]
categories:
  - id: x
    title: X
    provider_token: x
    steps:
      - {id: s1, prompt: p, kind: enum, options: [{label: a, value: a}]}
`,
		},
		{
			name: "unknown step kind",
			doc: `
locations: [{slug: a, title: A}]
categories:
  - id: x
    title: X
    provider_token: x
    steps:
      - {id: s1, prompt: p, kind: slider, options: [{label: a, value: a}, {label: b, value: b}]}
`,
		},
		{
			name: "search range on unmapped field",
			doc: `
locations: [{slug: a, title: A}]
categories:
  - id: x
    title: X
    provider_token: x
    search_ranges: [{name: mileage, min: mileage_min, max: mileage_max}]
    steps:
      - {id: s1, prompt: p, kind: enum, options: [{label: a, value: a}, {label: b, value: b}]}
`,
		},
		{
			name: "duplicate category",
			doc: `
locations: [{slug: a, title: A}]
categories:
  - {id: x, title: X, provider_token: x}
  - {id: x, title: Y, provider_token: y}
`,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_ZeroStepCategory(t *testing.T) {
	c, err := Parse([]byte(`
locations: [{slug: a, title: A}]
categories:
  - {id: misc, title: Misc, provider_token: misc}
`))
	require.NoError(t, err)

	cat, err := c.Definition("misc")
	require.NoError(t, err)
	assert.Empty(t, cat.Steps)
	assert.Empty(t, cat.Fields())
}

func TestParseRange(t *testing.T) {
	testCases := []struct {
		value    string
		wantLow  domain.Value
		wantHigh domain.Value
		wantErr  bool
	}{
		{value: "0-50000", wantLow: domain.IntValue(0), wantHigh: domain.IntValue(50000)},
		{value: "1500000000-100000000000", wantLow: domain.IntValue(1500000000), wantHigh: domain.IntValue(100000000000)},
		{value: "small-large", wantLow: domain.StringValue("small"), wantHigh: domain.StringValue("large")},
		{value: "3-12-x", wantLow: domain.StringValue("3"), wantHigh: domain.StringValue("12-x")},
		{value: "42", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.value, func(t *testing.T) {
			low, high, err := ParseRange(tc.value)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantLow, low)
			assert.Equal(t, tc.wantHigh, high)
		})
	}
}

func TestCategory_ValidateCriteria(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	animals, err := c.Definition("animals")
	require.NoError(t, err)

	ok := domain.Criteria{
		"sub":     domain.StringValue("dog"),
		"age_min": domain.IntValue(0),
		"age_max": domain.IntValue(3),
	}
	assert.NoError(t, animals.ValidateCriteria(ok))

	bad := domain.Criteria{"mileage_min": domain.IntValue(0)}
	assert.True(t, errors.Is(animals.ValidateCriteria(bad), ErrUnknownField))
}
