package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/mail-tracker/internal/model"
)

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in   string
		want Granularity
	}{
		{"", Overview},
		{"overview", Overview},
		{"days", Days},
		{"days,months", Days | Months},
		{" Months , years ", Months | Years},
		{"all", All},
	}

	for _, tt := range tests {
		got, err := ParseGranularity(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseGranularity("days,weeks")
	assert.True(t, errors.Is(err, model.ErrInvalidGranularity))
}

func TestGranularity_String(t *testing.T) {
	assert.Equal(t, "overview", Overview.String())
	assert.Equal(t, "days,years", (Days | Years).String())
	assert.False(t, Overview.Has(Overview))
	assert.True(t, All.Has(Months))
}

func TestQuery_Range(t *testing.T) {
	now := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

	got, err := Query{}.Range(now)
	require.NoError(t, err)
	assert.Equal(t, Period{From: now.Add(-24 * time.Hour), To: now}, got)

	explicit := &Period{From: day(2024, 1, 1), To: day(2024, 2, 1)}
	got, err = Query{Window: Today, Period: explicit}.Range(now)
	require.NoError(t, err)
	assert.Equal(t, *explicit, got)

	_, err = Query{Period: &Period{From: day(2024, 2, 1), To: day(2024, 1, 1)}}.Range(now)
	assert.True(t, errors.Is(err, model.ErrInvalidPeriod))
}

func TestQuery_FilterMap(t *testing.T) {
	q := Query{Filters: []Filter{
		{Dimension: model.DimensionCategory, Values: []string{"welcome"}},
		{Dimension: model.DimensionCategory, Values: []string{"reset"}},
		{Dimension: model.DimensionDistributionType, Values: []string{"CC"}},
	}}

	got, err := q.FilterMap()
	require.NoError(t, err)
	assert.Equal(t, []string{"welcome", "reset"}, got[model.DimensionCategory])
	assert.Equal(t, []string{"cc"}, got[model.DimensionDistributionType])

	_, err = Query{Filters: []Filter{{Dimension: "subject", Values: []string{"x"}}}}.FilterMap()
	assert.True(t, errors.Is(err, model.ErrInvalidFilter))

	_, err = Query{Filters: []Filter{{Dimension: model.DimensionEmail}}}.FilterMap()
	assert.True(t, errors.Is(err, model.ErrInvalidFilter))

	_, err = Query{Filters: []Filter{{Dimension: model.DimensionDistributionType, Values: []string{"fax"}}}}.FilterMap()
	assert.True(t, errors.Is(err, model.ErrInvalidFilter))
}

func TestQuery_FilterMap_CanonicalStatus(t *testing.T) {
	got, err := Query{Filters: []Filter{
		{Dimension: model.DimensionStatus, Values: []string{"spam-report", "open"}},
	}}.FilterMap()
	require.NoError(t, err)

	assert.Equal(t, []string{"spamreport", "open"}, got[model.DimensionStatus])
}
