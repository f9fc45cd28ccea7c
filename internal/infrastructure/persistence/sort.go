package persistence

import (
	"strings"

	"gorm.io/gorm/clause"
)

// sortSpec whitelists the columns a listing may order by. Anything else falls
// back to the default column, newest first.
type sortSpec struct {
	columns  map[string]struct{}
	fallback string
}

func newSortSpec(fallback string, columns ...string) sortSpec {
	set := make(map[string]struct{}, len(columns)+1)
	set[fallback] = struct{}{}
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return sortSpec{columns: set, fallback: fallback}
}

var (
	runSort = newSortSpec("created_at",
		"started_at", "completed_at", "duration_ms", "status", "entity_type",
		"total_events", "processed_events", "failed_events")
	alertSort = newSortSpec("triggered_at", "last_seen_at", "severity", "occurrences")
)

// order resolves the requested column and direction. Only "asc" in any case
// sorts ascending.
func (s sortSpec) order(by, dir string) clause.OrderByColumn {
	col := strings.TrimSpace(by)
	if _, ok := s.columns[col]; !ok {
		col = s.fallback
	}
	return clause.OrderByColumn{
		Column: clause.Column{Name: col},
		Desc:   !strings.EqualFold(strings.TrimSpace(dir), "asc"),
	}
}
