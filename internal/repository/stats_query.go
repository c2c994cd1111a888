package repository

import (
	"fmt"
	"strings"

	"github.com/jnst/mail-tracker/internal/model"
)

// sendColumns is the column list every send query scans, in scanSend order.
const sendColumns = `s.id, s.tracker_id, s.email, s.recipient_kind, s.recipient_id, s.linked_kind, s.linked_id,
	s.distribution_type, s.category, s.queue, s.message_class, s.created_at`

var dimensionColumns = map[model.Dimension]string{
	model.DimensionEmail:            "s.email",
	model.DimensionCategory:         "s.category",
	model.DimensionMessageClass:     "s.message_class",
	model.DimensionDistributionType: "s.distribution_type",
}

// buildStatsQuery renders the send selection for criteria. A status filter matches sends
// that have at least one event with one of the statuses.
func buildStatsQuery(criteria *SendCriteria) (string, []any, error) {
	var (
		where = []string{"s.created_at BETWEEN $1 AND $2"}
		args  = []any{criteria.From, criteria.To}
	)

	for dimension := range criteria.Filters {
		if !dimension.Valid() {
			return "", nil, fmt.Errorf("%w: unknown dimension %q", model.ErrInvalidFilter, dimension)
		}
	}

	for _, dimension := range model.Dimensions {
		values, ok := criteria.Filters[dimension]
		if !ok {
			continue
		}

		if len(values) == 0 {
			return "", nil, fmt.Errorf("%w: no values for %s", model.ErrInvalidFilter, dimension)
		}

		args = append(args, values)
		placeholder := fmt.Sprintf("$%d", len(args))

		if dimension == model.DimensionStatus {
			where = append(where, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM %s e WHERE e.send_record_id = s.id AND e.status = ANY(%s))",
				eventTable, placeholder,
			))

			continue
		}

		where = append(where, fmt.Sprintf("%s = ANY(%s)", dimensionColumns[dimension], placeholder))
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s s WHERE %s ORDER BY s.created_at, s.id",
		sendColumns, sendTable, strings.Join(where, " AND "),
	)

	return query, args, nil
}
