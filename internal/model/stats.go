package model

import (
	"encoding/json"
	"strconv"
)

// StatsResult is an aggregate snapshot over a set of send records.
type StatsResult struct {
	Total          int            `json:"total"`
	Period         string         `json:"period,omitempty"`
	Emails         map[string]int `json:"emails"`
	Categories     map[string]int `json:"categories"`
	MessageClasses map[string]int `json:"message_classes"`
	Queues         map[string]int `json:"queues"`
	Events         map[string]int `json:"events"`
}

// NewStatsResult creates an empty result for period ("" for the overview).
func NewStatsResult(period string) *StatsResult {
	return &StatsResult{
		Period:         period,
		Emails:         make(map[string]int),
		Categories:     make(map[string]int),
		MessageClasses: make(map[string]int),
		Queues:         make(map[string]int),
		Events:         make(map[string]int),
	}
}

// PercentResult mirrors StatsResult with every count expressed as a share of Total.
type PercentResult struct {
	Total          int               `json:"total"`
	Period         string            `json:"period,omitempty"`
	Emails         map[string]string `json:"emails"`
	Categories     map[string]string `json:"categories"`
	MessageClasses map[string]string `json:"message_classes"`
	Queues         map[string]string `json:"queues"`
	Events         map[string]string `json:"events"`
}

// AsPercent converts every dimension count to 100*count/total with two decimals.
// A zero total yields "0.00" for every key.
func (r *StatsResult) AsPercent() *PercentResult {
	if r == nil {
		return nil
	}

	return &PercentResult{
		Total:          r.Total,
		Period:         r.Period,
		Emails:         percentMap(r.Emails, r.Total),
		Categories:     percentMap(r.Categories, r.Total),
		MessageClasses: percentMap(r.MessageClasses, r.Total),
		Queues:         percentMap(r.Queues, r.Total),
		Events:         percentMap(r.Events, r.Total),
	}
}

func percentMap(counts map[string]int, total int) map[string]string {
	out := make(map[string]string, len(counts))

	for key, count := range counts {
		share := 0.0
		if total != 0 {
			share = 100 * float64(count) / float64(total)
		}
		out[key] = strconv.FormatFloat(share, 'f', 2, 64)
	}

	return out
}

// StatsGroup names a bucketed series inside a collection.
type StatsGroup string

const (
	GroupDays   StatsGroup = "days"
	GroupMonths StatsGroup = "months"
	GroupYears  StatsGroup = "years"
)

// StatsResultCollection holds the unbucketed overview plus any requested bucket series.
type StatsResultCollection struct {
	overview *StatsResult
	groups   map[StatsGroup][]*StatsResult
}

// NewStatsResultCollection creates a collection around an overview result.
func NewStatsResultCollection(overview *StatsResult) *StatsResultCollection {
	if overview == nil {
		overview = NewStatsResult("")
	}

	return &StatsResultCollection{
		overview: overview,
		groups:   make(map[StatsGroup][]*StatsResult),
	}
}

// AddGroup appends a bucket result to a group, keeping insertion order.
func (c *StatsResultCollection) AddGroup(group StatsGroup, result *StatsResult) {
	c.groups[group] = append(c.groups[group], result)
}

// SetGroup replaces a group's series. A nil series registers the group as computed but empty.
func (c *StatsResultCollection) SetGroup(group StatsGroup, results []*StatsResult) {
	c.groups[group] = append(make([]*StatsResult, 0, len(results)), results...)
}

// Overview returns the whole-range result.
func (c *StatsResultCollection) Overview() *StatsResult { return c.overview }

// Group returns the bucket series for group, or nil when it was not computed.
func (c *StatsResultCollection) Group(group StatsGroup) []*StatsResult { return c.groups[group] }

// HasGroup reports whether group was computed.
func (c *StatsResultCollection) HasGroup(group StatsGroup) bool {
	_, ok := c.groups[group]
	return ok
}

// Days returns the per-day buckets, or nil when days were not requested.
func (c *StatsResultCollection) Days() []*StatsResult { return c.groups[GroupDays] }

// Months returns the per-month buckets, or nil when months were not requested.
func (c *StatsResultCollection) Months() []*StatsResult { return c.groups[GroupMonths] }

// Years returns the per-year buckets, or nil when years were not requested.
func (c *StatsResultCollection) Years() []*StatsResult { return c.groups[GroupYears] }

// Total returns the number of send records in the overview.
func (c *StatsResultCollection) Total() int { return c.overview.Total }

// Emails returns overview counts keyed by recipient address.
func (c *StatsResultCollection) Emails() map[string]int { return c.overview.Emails }

// Categories returns overview counts keyed by category.
func (c *StatsResultCollection) Categories() map[string]int { return c.overview.Categories }

// MessageClasses returns overview counts keyed by message class.
func (c *StatsResultCollection) MessageClasses() map[string]int { return c.overview.MessageClasses }

// Queues returns overview counts keyed by queue; unqueued sends count under NotQueued.
func (c *StatsResultCollection) Queues() map[string]int { return c.overview.Queues }

// Events returns overview event counts keyed by status.
func (c *StatsResultCollection) Events() map[string]int { return c.overview.Events }

// AsPercent converts the overview.
func (c *StatsResultCollection) AsPercent() *PercentResult { return c.overview.AsPercent() }

// MarshalJSON renders the overview and every computed group.
func (c *StatsResultCollection) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Overview *StatsResult                  `json:"overview"`
		Groups   map[StatsGroup][]*StatsResult `json:"groups,omitempty"`
	}{
		Overview: c.overview,
		Groups:   c.groups,
	})
}

// Dimension is a send attribute stats can be filtered on.
type Dimension string

const (
	DimensionEmail            Dimension = "email"
	DimensionCategory         Dimension = "category"
	DimensionMessageClass     Dimension = "message_class"
	DimensionDistributionType Dimension = "distribution_type"
	DimensionStatus           Dimension = "status"
)

// Dimensions lists every filterable dimension in a fixed order.
var Dimensions = []Dimension{
	DimensionEmail,
	DimensionCategory,
	DimensionMessageClass,
	DimensionDistributionType,
	DimensionStatus,
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}

	return false
}
