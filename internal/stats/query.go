package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/jnst/mail-tracker/internal/model"
)

// Granularity selects which bucket series are computed next to the overview.
type Granularity uint8

const (
	Days Granularity = 1 << iota
	Months
	Years

	// Overview computes no buckets.
	Overview Granularity = 0
	// All computes every bucket series.
	All = Days | Months | Years
)

// Has reports whether g includes every series in other.
func (g Granularity) Has(other Granularity) bool {
	return g&other == other && other != 0
}

// ParseGranularity reads a comma separated list such as "days,months".
// An empty string and "overview" select no buckets; "all" selects every series.
func ParseGranularity(s string) (Granularity, error) {
	var g Granularity

	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "", "overview":
		case "days", "day":
			g |= Days
		case "months", "month":
			g |= Months
		case "years", "year":
			g |= Years
		case "all":
			g |= All
		default:
			return 0, fmt.Errorf("%w: %q", model.ErrInvalidGranularity, part)
		}
	}

	return g, nil
}

// String renders g in the form ParseGranularity accepts.
func (g Granularity) String() string {
	var parts []string
	if g.Has(Days) {
		parts = append(parts, string(model.GroupDays))
	}
	if g.Has(Months) {
		parts = append(parts, string(model.GroupMonths))
	}
	if g.Has(Years) {
		parts = append(parts, string(model.GroupYears))
	}
	if len(parts) == 0 {
		return "overview"
	}

	return strings.Join(parts, ",")
}

// Filter restricts one dimension to any of Values.
type Filter struct {
	Dimension model.Dimension
	Values    []string
}

// Query describes one stats request. Period wins over Window when both are set.
type Query struct {
	Window      Window
	Period      *Period
	Filters     []Filter
	Granularity Granularity
}

// Range resolves the query's boundaries at now.
func (q Query) Range(now time.Time) (Period, error) {
	if q.Period != nil {
		if err := q.Period.Validate(); err != nil {
			return Period{}, err
		}
		return *q.Period, nil
	}

	window := q.Window
	if window == "" {
		window = DefaultWindow
	}

	return window.Resolve(now)
}

// FilterMap merges filters by dimension. Repeated dimensions accumulate values.
func (q Query) FilterMap() (map[model.Dimension][]string, error) {
	out := make(map[model.Dimension][]string, len(q.Filters))

	for _, f := range q.Filters {
		if !f.Dimension.Valid() {
			return nil, fmt.Errorf("%w: unknown dimension %q", model.ErrInvalidFilter, f.Dimension)
		}
		if len(f.Values) == 0 {
			return nil, fmt.Errorf("%w: no values for %q", model.ErrInvalidFilter, f.Dimension)
		}
		values := f.Values
		if f.Dimension == model.DimensionDistributionType {
			values = make([]string, 0, len(f.Values))
			for _, v := range f.Values {
				dt, err := model.ParseDistributionType(v)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", model.ErrInvalidFilter, err)
				}
				values = append(values, string(dt))
			}
		}
		if f.Dimension == model.DimensionStatus {
			values = make([]string, 0, len(f.Values))
			for _, v := range f.Values {
				values = append(values, string(model.EventStatus(v).Canonical()))
			}
		}
		out[f.Dimension] = append(out[f.Dimension], values...)
	}

	return out, nil
}
