package stats

import (
	"time"

	"github.com/jnst/mail-tracker/internal/model"
)

// Bucket label layouts.
const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
	YearLayout  = "2006"
)

type series struct {
	group  model.StatsGroup
	layout string
	order  []string
	byKey  map[string]*model.StatsResult
}

func (s *series) bucket(createdAt time.Time) *model.StatsResult {
	key := createdAt.Format(s.layout)

	result, ok := s.byKey[key]
	if !ok {
		result = model.NewStatsResult(key)
		s.byKey[key] = result
		s.order = append(s.order, key)
	}

	return result
}

// Aggregate counts sends into an overview plus the bucket series selected by g.
// Bucket labels use loc (UTC when nil) and appear in the order first observed.
func Aggregate(sends []model.SendWithEvents, g Granularity, loc *time.Location) *model.StatsResultCollection {
	if loc == nil {
		loc = time.UTC
	}

	overview := model.NewStatsResult("")

	var active []*series
	if g.Has(Days) {
		active = append(active, newSeries(model.GroupDays, DayLayout))
	}
	if g.Has(Months) {
		active = append(active, newSeries(model.GroupMonths, MonthLayout))
	}
	if g.Has(Years) {
		active = append(active, newSeries(model.GroupYears, YearLayout))
	}

	for i := range sends {
		item := &sends[i]
		count(overview, item)

		createdAt := item.Send.CreatedAt.In(loc)
		for _, s := range active {
			count(s.bucket(createdAt), item)
		}
	}

	collection := model.NewStatsResultCollection(overview)
	for _, s := range active {
		results := make([]*model.StatsResult, 0, len(s.order))
		for _, key := range s.order {
			results = append(results, s.byKey[key])
		}
		collection.SetGroup(s.group, results)
	}

	return collection
}

func newSeries(group model.StatsGroup, layout string) *series {
	return &series{group: group, layout: layout, byKey: make(map[string]*model.StatsResult)}
}

func count(result *model.StatsResult, item *model.SendWithEvents) {
	send := &item.Send

	result.Total++
	result.Emails[send.Email]++
	if send.Category != nil {
		result.Categories[*send.Category]++
	}
	result.MessageClasses[send.MessageClass]++
	result.Queues[send.QueueKey()]++

	for _, event := range item.Events {
		result.Events[string(event.Status)]++
	}
}
